//go:build windows

package torproxy

import (
	"os"
	"os/exec"
	"syscall"
)

const (
	platformDir = "windows"
	exeSuffix   = ".exe"
)

// setSysProcAttr hides the daemon's console window.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

// terminateProcess kills the daemon; Windows offers no graceful signal here.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
