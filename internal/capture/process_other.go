//go:build !unix

package capture

import "os/exec"

// setupProcessGroup is a no-op without POSIX process groups
func setupProcessGroup(*exec.Cmd) {}

// killProcessGroup kills only the command itself
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
