//go:build !windows

package transcode

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setNewProcessGroup arranges for cmd's child to become the leader of its
// own process group, so the watchdog can signal the whole group (the
// transcoder plus any helper processes it forks) rather than just the
// immediate child.
func setNewProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends sig to every process in pid's group. pid is the
// transcoder's own pid, which is also its process group id since
// setNewProcessGroup made it the leader.
func killProcessGroup(pid int, sig syscall.Signal) error {
	return unix.Kill(-pid, sig)
}
