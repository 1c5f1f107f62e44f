package app

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openPath hands a file to the desktop's default opener. The viewer is
// detached; we only report launch failures, not viewer exit status.
func openPath(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch viewer: %w", err)
	}
	go cmd.Wait() // reap, ignore status
	return nil
}
