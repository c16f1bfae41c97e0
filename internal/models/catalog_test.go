package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"local-dictation/internal/domain"
)

func testPresets(url string) []domain.ModelPreset {
	return []domain.ModelPreset{
		{
			ID:       "speech-test",
			Engine:   domain.EngineSpeech,
			Name:     "Test Speech Model",
			FileName: "ggml-test.bin",
			URL:      url + "/ggml-test.bin",
		},
		{
			ID:       "lm-test",
			Engine:   domain.EngineLanguageModel,
			Name:     "Test Language Model",
			FileName: "test.gguf",
			URL:      url + "/test.gguf",
		},
	}
}

func TestPresetsMarkDownloadedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ggml-test.bin"), []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}

	catalog := NewCatalogForTests(dir, testPresets("http://127.0.0.1:0"))
	presets := catalog.Presets()

	if !presets[0].Downloaded {
		t.Fatal("present model file must be marked downloaded")
	}
	if presets[0].LocalPath != filepath.Join(dir, "ggml-test.bin") {
		t.Fatalf("LocalPath = %q", presets[0].LocalPath)
	}
	if presets[1].Downloaded {
		t.Fatal("absent model file must not be marked downloaded")
	}
}

func TestDownloadWritesModelFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	catalog := NewCatalogForTests(dir, testPresets(srv.URL))

	path, err := catalog.Download(context.Background(), "lm-test")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if path != filepath.Join(dir, "test.gguf") {
		t.Fatalf("Download() path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "model-bytes" {
		t.Fatalf("downloaded content = %q", data)
	}
	if _, err := os.Stat(path + ".download"); !os.IsNotExist(err) {
		t.Fatal("temp file must be gone after a finished download")
	}
}

func TestDownloadLeavesNoFileOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	catalog := NewCatalogForTests(dir, testPresets(srv.URL))

	if _, err := catalog.Download(context.Background(), "speech-test"); err == nil {
		t.Fatal("Download() error = nil, want failure")
	}
	if _, err := os.Stat(filepath.Join(dir, "ggml-test.bin")); !os.IsNotExist(err) {
		t.Fatal("failed download must not leave a model file")
	}
}

func TestDownloadRejectsUnknownID(t *testing.T) {
	catalog := NewCatalogForTests(t.TempDir(), testPresets("http://127.0.0.1:0"))
	if _, err := catalog.Download(context.Background(), "no-such-model"); err == nil {
		t.Fatal("Download() error = nil, want unknown id failure")
	}
	if _, err := catalog.Download(context.Background(), "  "); err == nil {
		t.Fatal("Download() error = nil, want missing id failure")
	}
}

func TestBuiltinPresetsCoverBothEngines(t *testing.T) {
	catalog := NewCatalog(t.TempDir(), zerolog.Nop())
	var speech, lm int
	for _, preset := range catalog.Presets() {
		switch preset.Engine {
		case domain.EngineSpeech:
			speech++
		case domain.EngineLanguageModel:
			lm++
		}
		if preset.FileName == "" || preset.URL == "" {
			t.Errorf("preset %s is missing file name or URL", preset.ID)
		}
	}
	if speech == 0 || lm == 0 {
		t.Fatalf("presets must cover both engines: speech=%d lm=%d", speech, lm)
	}
}
