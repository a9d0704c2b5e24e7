//go:build linux

package executil

import (
	"os/exec"
	"syscall"
	"testing"
)

func TestKillProcessGroup_Attributes(t *testing.T) {
	cmd := exec.Command("true")
	killProcessGroup(cmd)

	attr := cmd.SysProcAttr
	if attr == nil {
		t.Fatal("SysProcAttr not set")
	}
	if !attr.Setpgid {
		t.Error("child should get its own process group")
	}
	if attr.Pdeathsig != syscall.SIGKILL {
		t.Errorf("Pdeathsig = %v, want SIGKILL", attr.Pdeathsig)
	}
	if cmd.Cancel == nil {
		t.Error("Cancel should kill the process group")
	}
}
