//go:build !windows

package deployer

import "syscall"

func hiddenProcAttr() *syscall.SysProcAttr {
	return nil
}
