package bootstrap

import (
	"os"
	"path/filepath"
)

// ensureLocalBinOnPATH prepends the app-managed bin directory to PATH so
// engine binaries installed there are discoverable without shell setup.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

// localBinDir is where app-installed engine binaries live.
func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".local-dictation", "bin")
}
