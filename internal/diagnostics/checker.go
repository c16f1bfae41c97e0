// Package diagnostics validates that both engines can run on this
// machine: binaries present, models downloaded, model directory writable.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"local-dictation/internal/domain"
)

// speechBinaryNames are the accepted executable names for the speech
// engine, preferred first.
var speechBinaryNames = []string{"whisper-cli", "whisper-cpp", "main"}

// languageBinaryNames are the accepted executable names for the
// language-model server.
var languageBinaryNames = []string{"llama-server"}

// Checker validates engine binaries and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkBinary("speech_binary", "Speech engine binary", settings.SpeechBinary, speechBinaryNames),
		c.checkBinary("language_binary", "Language-model server binary", settings.LanguageBinary, languageBinaryNames),
		c.checkModel("speech_model", "Speech model", settings.SpeechModel, settings.ModelDir, ".bin"),
		c.checkModel("language_model", "Language model", settings.LanguageModel, settings.ModelDir, ".gguf"),
		c.checkModelDir(settings.ModelDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkBinary verifies an engine executable exists, honoring an explicit
// override path before probing PATH for the known names.
func (c *Checker) checkBinary(id, name, override string, candidates []string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if trimmed := strings.TrimSpace(override); trimmed != "" {
		info, err := c.stat(trimmed)
		if err != nil || info.IsDir() {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Configured binary not found: %s", trimmed)
			item.Hint = "Fix the binary path in settings or clear it to use automatic discovery."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", trimmed)
		return item
	}

	for _, candidate := range candidates {
		if path, err := c.lookPath(candidate); err == nil {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Found at %s", path)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No executable found in PATH (tried %s)", strings.Join(candidates, ", "))
	item.Hint = "Install the engine binary or set an explicit path in settings."
	return item
}

// checkModel verifies a model file exists, either at an explicit path or
// anywhere in the model directory with the expected extension.
func (c *Checker) checkModel(id, name, override, modelDir, ext string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if trimmed := strings.TrimSpace(override); trimmed != "" {
		info, err := c.stat(trimmed)
		if err != nil || info.IsDir() {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Configured model not found: %s", trimmed)
			item.Hint = "Fix the model path in settings or clear it to use automatic discovery."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", trimmed)
		return item
	}

	entries, err := c.readDir(modelDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelDir)
		item.Hint = "Create the model directory or fix its permissions."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Found %s in %s", entry.Name(), modelDir)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No %s model found in %s", ext, modelDir)
	item.Hint = "Download a model from the model catalog or place one in the model directory."
	return item
}

// checkModelDir validates the model directory exists and is writable, so
// model downloads can land there.
func (c *Checker) checkModelDir(modelDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_dir",
		Name: "Model directory",
	}

	if strings.TrimSpace(modelDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model directory is empty."
		item.Hint = "Set a directory where engine models can be stored."
		return item
	}

	if err := c.mkdirAll(modelDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create model directory: %s", modelDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(modelDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model directory is not writable: %s", modelDir)
		item.Hint = "Choose a writable directory for model downloads."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", modelDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
