//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// setSysProcAttr hides the console window of the child process.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

// terminateProcess kills the process; Windows has no graceful signal for
// console-less children.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
