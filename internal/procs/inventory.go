// Package procs answers questions about live processes: which ones hold a
// file, and how to stop them. The OS process table is reached only through
// the Inventory interface so that callers can be tested against a fake.
package procs

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrUnavailable means the process table could not be inspected at all.
// Callers degrade to "cannot verify holders" and continue.
var ErrUnavailable = errors.New("process inspection unavailable")

// Process is a minimal entry of the process table.
type Process struct {
	PID  int32
	Name string
}

// Holder is a process that executes or has open a given file. ExePath is
// empty when the executable could not be resolved.
type Holder struct {
	PID     int32
	Name    string
	ExePath string
}

// Inventory is the process-table capability used by this module.
type Inventory interface {
	Processes(ctx context.Context) ([]Process, error)
	ExePath(ctx context.Context, pid int32) (string, error)
	OpenFiles(ctx context.Context, pid int32) ([]string, error)
	Exists(ctx context.Context, pid int32) (bool, error)
	// Terminate asks the process to exit. On Windows this is immediate.
	Terminate(ctx context.Context, pid int32) error
	Kill(ctx context.Context, pid int32) error
}

// SamePath reports whether a and b name the same file. Comparison is
// case-insensitive on Windows.
func SamePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	a, b = normalize(a), normalize(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func normalize(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}
