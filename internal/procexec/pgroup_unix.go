//go:build unix

package procexec

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd as a group leader and makes context
// cancellation kill the group instead of the leader only.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return KillGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
}

// KillGroup signals every process in the group led by pid.
func KillGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}

// SetProcessGroup exposes group setup for long-running daemons.
func SetProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
