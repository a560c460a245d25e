package config

import (
	"os"
	"path/filepath"
)

// defaultWorkRoot places working directories under the system temp dir.
func defaultWorkRoot() string {
	return filepath.Join(os.TempDir(), "issueforge")
}

// defaultStoreDir follows XDG_STATE_HOME, falling back to ~/.local/state.
func defaultStoreDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "issueforge", "sessions")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "issueforge-sessions")
	}
	return filepath.Join(home, ".local", "state", "issueforge", "sessions")
}
