package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"psadiag/internal/logger"
)

const resultFile = "update-result.json"

// Outcome is what the updater leaves behind for the next start of the
// application.
type Outcome struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Target     string    `json:"target"`
	Relaunched bool      `json:"relaunched"`
	ExecutedAt time.Time `json:"executed_at"`
}

// ResultHandler reads and writes the outcome file in a state directory.
type ResultHandler struct {
	path string
	log  logger.Logger
}

// NewResultHandler stores the outcome as update-result.json in dir.
func NewResultHandler(dir string, log logger.Logger) *ResultHandler {
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}
	return &ResultHandler{path: filepath.Join(dir, resultFile), log: log}
}

func (rh *ResultHandler) Path() string {
	return rh.path
}

// Write stores outcome atomically: a temporary file renamed into place.
func (rh *ResultHandler) Write(outcome Outcome) error {
	if err := os.MkdirAll(filepath.Dir(rh.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := rh.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, rh.path); err != nil {
		if cleanupErr := os.Remove(tmpPath); cleanupErr != nil {
			rh.log.Warn("failed to remove temp result file: %v", cleanupErr)
		}
		return err
	}

	rh.log.Debug("update result written to %s", rh.path)
	return nil
}

// Read returns the stored outcome. A missing file yields os.ErrNotExist.
func (rh *ResultHandler) Read() (Outcome, error) {
	data, err := os.ReadFile(rh.path)
	if err != nil {
		return Outcome{}, err
	}

	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("invalid result format: %w", err)
	}
	return outcome, nil
}

// Consume reads and then removes the outcome, so it is reported only once.
func (rh *ResultHandler) Consume() (Outcome, error) {
	outcome, err := rh.Read()
	if err != nil {
		return Outcome{}, err
	}
	if err := rh.Cleanup(); err != nil {
		rh.log.Warn("failed to remove update result: %v", err)
	}
	return outcome, nil
}

// Cleanup removes the outcome file if present.
func (rh *ResultHandler) Cleanup() error {
	err := os.Remove(rh.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Watch blocks until an outcome is written or ctx ends. An outcome already
// present is returned immediately.
func (rh *ResultHandler) Watch(ctx context.Context) (Outcome, error) {
	if outcome, err := rh.Read(); err == nil {
		return outcome, nil
	}

	dir := filepath.Dir(rh.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Outcome{}, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			rh.log.Warn("failed to close watcher: %v", err)
		}
	}()

	if err := watcher.Add(dir); err != nil {
		return Outcome{}, fmt.Errorf("failed to watch directory: %w", err)
	}

	// The file may have appeared between the first read and Add.
	if outcome, err := rh.Read(); err == nil {
		return outcome, nil
	}

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return Outcome{}, errors.New("watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != filepath.Clean(rh.path) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				outcome, err := rh.Read()
				if err != nil {
					rh.log.Debug("result not readable yet: %v", err)
					continue
				}
				return outcome, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return Outcome{}, errors.New("watcher closed unexpectedly")
			}
			return Outcome{}, fmt.Errorf("watcher error: %w", err)
		}
	}
}
