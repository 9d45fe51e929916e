//go:build windows

package extract

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// childProcAttr keeps the console tool from opening a window.
func childProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
