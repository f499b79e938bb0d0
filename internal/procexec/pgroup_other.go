//go:build !unix

package procexec

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {}

// KillGroup kills the process; groups are not available on this platform.
func KillGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// SetProcessGroup is a no-op on this platform.
func SetProcessGroup(cmd *exec.Cmd) {}
