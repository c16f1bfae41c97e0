package config

import (
	"os"
	"path/filepath"
	"strings"

	"local-dictation/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelDir:    filepath.Join(homeDir, ".local-dictation", "models"),
		Language:    "en",
		Threads:     4,
		ServerPort:  8737,
		ContextSize: 4096,
		GPULayers:   0,
		LogLevel:    "info",
	}
}

// Normalize fills zero-value fields from the defaults so stored settings
// from older versions stay usable.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	if strings.TrimSpace(settings.ModelDir) == "" {
		settings.ModelDir = defaults.ModelDir
	}
	if strings.TrimSpace(settings.Language) == "" {
		settings.Language = defaults.Language
	}
	if settings.Threads <= 0 {
		settings.Threads = defaults.Threads
	}
	if settings.ServerPort <= 0 {
		settings.ServerPort = defaults.ServerPort
	}
	if settings.ContextSize <= 0 {
		settings.ContextSize = defaults.ContextSize
	}
	if settings.GPULayers < 0 {
		settings.GPULayers = 0
	}
	if strings.TrimSpace(settings.LogLevel) == "" {
		settings.LogLevel = defaults.LogLevel
	}
	return settings
}
