//go:build windows

package transcode

import (
	"os"
	"os/exec"
	"syscall"
)

// setNewProcessGroup is a no-op on windows: there is no process-group
// leader concept to set up before starting the child.
func setNewProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup falls back to killing the single process; windows has
// no direct equivalent of a POSIX process-group signal in this build.
func killProcessGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
