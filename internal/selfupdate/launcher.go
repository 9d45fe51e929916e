package selfupdate

import (
	"os/exec"
	"path/filepath"
)

// Launcher starts a program without waiting for it.
type Launcher interface {
	Launch(path string, args ...string) error
}

// DetachedLauncher starts programs detached from the current process.
type DetachedLauncher struct{}

// Launch starts path in its own directory and releases it immediately.
func (DetachedLauncher) Launch(path string, args ...string) error {
	cmd := exec.Command(path, args...)
	cmd.Dir = filepath.Dir(path)
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
