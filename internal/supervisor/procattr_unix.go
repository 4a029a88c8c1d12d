//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the child from the controlling terminal so it
// survives terminal teardown and never pops a window.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminateProcess asks the process to exit gracefully.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
