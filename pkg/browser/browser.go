// Package browser opens the user's default web browser on the
// authorization URL. The library itself never renders anything; the
// interactive part of the flow belongs to the browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Open launches the default browser on url without waiting for it to
// exit. It supports Linux, macOS and Windows.
func Open(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
