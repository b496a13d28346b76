package main

import (
	"os/exec"
	"syscall"
)

// newDetachedCommand builds a command that survives this process: its own
// session, no inherited terminal.
func newDetachedCommand(path string, args []string) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}
