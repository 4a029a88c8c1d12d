//go:build !windows

package torproxy

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

var platformDir = func() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	default:
		return "linux"
	}
}()

const exeSuffix = ""

// setSysProcAttr detaches the daemon from the controlling terminal.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminateProcess asks the daemon to exit gracefully.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
