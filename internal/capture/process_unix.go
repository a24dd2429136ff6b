//go:build unix

package capture

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup starts the command in a new process group
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup kills the command and any children it spawned
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	// the group may already be gone
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
