package download

import (
	"io"
	"os"
)

// File is the destination handle written by a transfer.
type File interface {
	io.Writer
	io.Closer
	// Sync commits written data to stable storage.
	Sync() error
}

// FileSystem abstracts the filesystem calls of a transfer for testability.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	Create(path string) (File, error)
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
}

// OSFileSystem implements FileSystem using the local OS.
type OSFileSystem struct{}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) Create(path string) (File, error) {
	return os.Create(path)
}

func (OSFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (OSFileSystem) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
