//go:build windows

package selfupdate

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// setDetached makes the child independent of our console and process group
// so that it survives our exit.
func setDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
	}
}

func isSharingViolation(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
