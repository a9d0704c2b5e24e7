//go:build linux

package executil

import "syscall"

// sysProcAttr also asks the kernel to SIGKILL the child if vibeflow dies
// without cancelling it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}
