package config

import (
	"os"
	"path/filepath"
	"testing"

	"local-dictation/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.Language != "en" {
		t.Fatalf("language = %q, want en", cfg.Language)
	}
	if cfg.ModelDir == "" {
		t.Fatal("expected non-empty model dir")
	}
	if cfg.ServerPort == 0 || cfg.ContextSize == 0 || cfg.Threads == 0 {
		t.Fatalf("engine defaults missing: %+v", cfg)
	}
}

// TestNormalizeFillsZeroFields checks settings from older files stay usable.
func TestNormalizeFillsZeroFields(t *testing.T) {
	got := Normalize(domain.Settings{Language: "de", GPULayers: -1})
	defaults := DefaultSettings()

	if got.Language != "de" {
		t.Fatalf("language = %q, explicit values must survive", got.Language)
	}
	if got.ModelDir != defaults.ModelDir {
		t.Fatalf("model dir = %q, want default", got.ModelDir)
	}
	if got.ServerPort != defaults.ServerPort || got.Threads != defaults.Threads || got.ContextSize != defaults.ContextSize {
		t.Fatalf("engine fields not filled: %+v", got)
	}
	if got.GPULayers != 0 {
		t.Fatalf("gpu layers = %d, negative values must clamp to 0", got.GPULayers)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Language != "en" {
		t.Fatalf("language = %q, want en", got.Language)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		ModelDir:    "/models",
		Language:    "en",
		Threads:     8,
		ServerPort:  9010,
		ContextSize: 8192,
		SpeechModel: "/models/ggml-base.en.bin",
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
