// Package procgroup spawns agent processes as process-group leaders and
// terminates the whole tree they create.
//
// Agent CLIs commonly fork helpers (MCP servers, shells, language
// servers). Killing only the direct child leaves those helpers holding the
// stdout/stderr pipes open, so readers never see EOF. Set must be called
// before cmd.Start for KillTree to reach the descendants.
package procgroup

import (
	"errors"
	"os/exec"
)

// ErrNoProcess indicates KillTree was called without a started process.
var ErrNoProcess = errors.New("procgroup: process not started")

// Set configures cmd to start in a new process group.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillTree forcefully terminates the process started by cmd and every
// process in its group. A process that already exited is not an error.
func KillTree(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return ErrNoProcess
	}
	return killTree(cmd)
}
