//go:build !windows

package extract

import "syscall"

func childProcAttr() *syscall.SysProcAttr {
	return nil
}
