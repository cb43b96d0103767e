//go:build !linux

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup configures the child to run in its own process group.
// Pdeathsig is Linux-only, so non-Linux hosts rely solely on the explicit
// SIGINT/SIGKILL escalation in Stop.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalGroup delivers sig to the entire process group of p.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	return syscall.Kill(-p.Pid, sig)
}

// killGroup sends SIGKILL to the entire process group of p.
func killGroup(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}
