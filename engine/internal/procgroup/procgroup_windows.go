//go:build windows

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
)

// set is a no-op on Windows; taskkill /T walks the tree by parent pid.
func set(*exec.Cmd) {}

func killTree(cmd *exec.Cmd) error {
	pid := strconv.Itoa(cmd.Process.Pid)
	if err := exec.Command("taskkill", "/T", "/F", "/PID", pid).Run(); err == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
