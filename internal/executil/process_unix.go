//go:build unix

package executil

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the child in its own process group and kills the
// whole group on cancellation, so grandchildren do not outlive the caller.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
