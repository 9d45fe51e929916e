package extract

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrToolNotFound is returned when no extraction tool candidate resolves.
var ErrToolNotFound = errors.New("extraction tool not found")

// LookPathFunc resolves a bare command name, like exec.LookPath.
type LookPathFunc func(file string) (string, error)

// DefaultCandidates lists the tools tried in order: the copy bundled next to
// the executable, then 7za and 7z from PATH.
func DefaultCandidates() []string {
	bundled := filepath.Join("tools", "7za")
	if runtime.GOOS == "windows" {
		bundled += ".exe"
	}
	return []string{bundled, "7za", "7z"}
}

// LocateTool returns the first usable candidate. A candidate containing a
// path separator must exist as a file, relative ones resolved against
// baseDir; a bare name is looked up on PATH.
func LocateTool(baseDir string, candidates []string, lookPath LookPathFunc) (string, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}

		if !strings.ContainsAny(candidate, `/\`) {
			if resolved, err := lookPath(candidate); err == nil {
				return resolved, nil
			}
			continue
		}

		path := filepath.FromSlash(candidate)
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w (checked %s)", ErrToolNotFound, strings.Join(candidates, ", "))
}

// ExecutableDir returns the directory of the running executable, or "" when
// it cannot be determined.
func ExecutableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}
