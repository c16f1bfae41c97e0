// Package models manages the downloadable model presets for both engines
// and watches the model directory for changes.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
)

const downloadTimeout = 45 * time.Minute

var builtinPresets = []domain.ModelPreset{
	{
		ID:          "speech-tiny.en",
		Engine:      domain.EngineSpeech,
		Name:        "Speech Tiny (English)",
		FileName:    "ggml-tiny.en.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin",
		SizeLabel:   "~75 MB",
		Description: "Fastest English-only speech model.",
	},
	{
		ID:          "speech-base.en",
		Engine:      domain.EngineSpeech,
		Name:        "Speech Base (English)",
		FileName:    "ggml-base.en.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed and quality, English-only. Recommended default.",
	},
	{
		ID:          "speech-base",
		Engine:      domain.EngineSpeech,
		Name:        "Speech Base (Multilingual)",
		FileName:    "ggml-base.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SizeLabel:   "~142 MB",
		Description: "Balanced speed and quality, multilingual.",
	},
	{
		ID:          "speech-small.en",
		Engine:      domain.EngineSpeech,
		Name:        "Speech Small (English)",
		FileName:    "ggml-small.en.bin",
		URL:         "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.en.bin",
		SizeLabel:   "~466 MB",
		Description: "Higher quality English-only speech model.",
	},
	{
		ID:          "lm-qwen2.5-1.5b",
		Engine:      domain.EngineLanguageModel,
		Name:        "Qwen 2.5 1.5B Instruct",
		FileName:    "qwen2.5-1.5b-instruct-q4_k_m.gguf",
		URL:         "https://huggingface.co/Qwen/Qwen2.5-1.5B-Instruct-GGUF/resolve/main/qwen2.5-1.5b-instruct-q4_k_m.gguf",
		SizeLabel:   "~1.0 GB",
		Description: "Small instruct model for refinement and answers. Recommended default.",
	},
	{
		ID:          "lm-llama-3.2-1b",
		Engine:      domain.EngineLanguageModel,
		Name:        "Llama 3.2 1B Instruct",
		FileName:    "llama-3.2-1b-instruct-q4_k_m.gguf",
		URL:         "https://huggingface.co/bartowski/Llama-3.2-1B-Instruct-GGUF/resolve/main/Llama-3.2-1B-Instruct-Q4_K_M.gguf",
		SizeLabel:   "~0.8 GB",
		Description: "Smallest usable instruct model.",
	},
}

// Catalog serves model presets and downloads them into the model directory.
type Catalog struct {
	modelDir string
	logger   zerolog.Logger
	presets  []domain.ModelPreset
	client   *http.Client
}

// NewCatalog builds a catalog over the given model directory.
func NewCatalog(modelDir string, logger zerolog.Logger) *Catalog {
	return &Catalog{
		modelDir: modelDir,
		logger:   logger,
		presets:  builtinPresets,
		client:   http.DefaultClient,
	}
}

// NewCatalogForTests builds a catalog with a caller-supplied preset list.
func NewCatalogForTests(modelDir string, presets []domain.ModelPreset) *Catalog {
	return &Catalog{
		modelDir: modelDir,
		logger:   zerolog.Nop(),
		presets:  presets,
		client:   http.DefaultClient,
	}
}

// Presets returns the preset list with downloaded state resolved against
// the model directory.
func (c *Catalog) Presets() []domain.ModelPreset {
	presets := make([]domain.ModelPreset, len(c.presets))
	copy(presets, c.presets)

	for i := range presets {
		candidate := filepath.Join(c.modelDir, presets[i].FileName)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		presets[i].Downloaded = true
		presets[i].LocalPath = candidate
	}
	return presets
}

// PresetByID looks up one preset.
func (c *Catalog) PresetByID(id string) (domain.ModelPreset, bool) {
	for _, preset := range c.presets {
		if preset.ID == id {
			return preset, true
		}
	}
	return domain.ModelPreset{}, false
}

// Download fetches the preset into the model directory and returns the
// local path. Partial downloads never land at the final path.
func (c *Catalog) Download(ctx context.Context, id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("model id is required")
	}
	preset, found := c.PresetByID(trimmed)
	if !found {
		return "", fmt.Errorf("unknown model id: %s", trimmed)
	}

	targetPath := filepath.Join(c.modelDir, preset.FileName)
	c.logger.Info().Str("model", preset.ID).Str("path", targetPath).Msg("downloading model")
	if err := c.downloadToFile(ctx, targetPath, preset.URL); err != nil {
		return "", fmt.Errorf("download model %s: %w", preset.Name, err)
	}
	return targetPath, nil
}

// downloadToFile streams the URL into a temp file and renames it into
// place only after a complete write.
func (c *Catalog) downloadToFile(ctx context.Context, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "local-dictation")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace existing file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize download: %w", err)
	}
	return nil
}
