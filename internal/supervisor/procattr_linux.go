//go:build linux

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup configures the child to run in its own process group and
// to receive SIGTERM if this process dies unexpectedly (OOM kill, SIGKILL),
// preventing an orphaned child from outliving the proxy.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
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
