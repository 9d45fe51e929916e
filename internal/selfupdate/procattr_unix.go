//go:build !windows

package selfupdate

import (
	"os/exec"
	"syscall"
)

// setDetached runs the child in a new session so that it survives our exit.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

func isSharingViolation(error) bool {
	return false
}
