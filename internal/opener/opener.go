// Package opener hands a URL to the desktop's default browser.
package opener

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Command returns the command that opens url on goos.
func Command(goos, url string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", url)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return exec.Command("xdg-open", url)
	}
}

// Open launches the browser and returns without waiting for it. Failure is
// non-fatal to callers: the URL is still shown and can be copied.
func Open(url string) error {
	cmd := Command(runtime.GOOS, url)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}
	go cmd.Wait()
	return nil
}
