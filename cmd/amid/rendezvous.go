package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// writePortFile publishes the daemon's actual bound port to
// ~/.ami/daemon.port (spec.md §6 Persisted State: "the bound port
// (pre-startup rendezvous with the UI)"), so a UI launched after the
// daemon can discover it without guessing a fixed port.
func writePortFile(port int) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".ami")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "daemon.port")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", port)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// removePortFile best-effort deletes the rendezvous file on shutdown so a
// stale port never outlives the process that bound it.
func removePortFile(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
