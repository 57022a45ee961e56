//go:build unix

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killTree(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	// -pid targets the group led by pid; valid because Set put the child
	// in its own group at spawn time.
	groupErr := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(groupErr, unix.ESRCH) {
		groupErr = nil
	}
	// Signal the leader directly too: it may not lead a group (Set not
	// called) or the group may already be gone while the leader lingers.
	leaderErr := cmd.Process.Signal(os.Kill)
	if errors.Is(leaderErr, os.ErrProcessDone) {
		leaderErr = nil
	}
	if groupErr != nil && leaderErr != nil {
		return errors.Join(groupErr, leaderErr)
	}
	return nil
}
