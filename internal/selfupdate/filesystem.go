package selfupdate

import (
	"errors"
	"io"
	"os"
)

// FileSystem is the subset of file operations the replace step needs.
type FileSystem interface {
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Chmod(path string, mode os.FileMode) error
}

// OSFileSystem implements FileSystem using the local OS.
type OSFileSystem struct{}

func (OSFileSystem) Rename(oldpath, newpath string) error      { return os.Rename(oldpath, newpath) }
func (OSFileSystem) Remove(path string) error                  { return os.Remove(path) }
func (OSFileSystem) Stat(path string) (os.FileInfo, error)     { return os.Stat(path) }
func (OSFileSystem) Open(path string) (io.ReadCloser, error)   { return os.Open(path) }
func (OSFileSystem) Chmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }

// isPermission reports errors after which removing the destination may help.
func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || isSharingViolation(err)
}
