//go:build !unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
)

func newGroup(cmd *exec.Cmd, tty bool) {}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
