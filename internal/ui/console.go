// Package ui renders operation progress and status for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"psadiag/internal/cleanup"
	"psadiag/internal/download"
	"psadiag/internal/extract"
	"psadiag/internal/logger"
	"psadiag/internal/pipeline"
)

// Console coordinates logger output, progress indicators, and plain text UI writes.
type Console struct {
	logger   logger.Logger
	progress logger.Progress
	output   io.Writer

	mu       sync.Mutex
	tick     int
	drawn    bool
	spinning bool
}

// NewConsole builds a Console bound to the provided logger.
func NewConsole(log logger.Logger, output io.Writer) *Console {
	c := &Console{
		logger: log,
		output: output,
	}
	if c.output == nil {
		c.output = os.Stdout
	}
	if c.progress == nil {
		c.progress = logger.NewSpinnerProgress(c.output)
	}

	return c
}

// Logger exposes the underlying logger.
func (c *Console) Logger() logger.Logger {
	return c.logger
}

// Progress exposes the configured progress indicator.
func (c *Console) Progress() logger.Progress {
	return c.progress
}

// Success logs a success message with a consistent prefix.
func (c *Console) Success(format string, args ...interface{}) {
	if c.logger == nil {
		return
	}
	c.logger.Info("✓ "+format, args...)
}

// WriteLine outputs formatted text without involving the logger.
func (c *Console) WriteLine(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLineLocked()
	fmt.Fprintf(c.output, format+"\n", args...)
}

// StepStarted shows a spinner next to the step name.
func (c *Console) StepStarted(step pipeline.Step) {
	c.mu.Lock()
	c.endLineLocked()
	c.spinning = true
	c.mu.Unlock()
	c.progress.Start(step.Name)
}

func (c *Console) StepDone(step pipeline.Step) {
	c.finishStep()
	c.progress.Stop(step.Name)
}

func (c *Console) StepFailed(step pipeline.Step, err error) {
	c.finishStep()
	c.progress.Fail(fmt.Sprintf("%s: %v", step.Name, err))
}

// Transfer redraws the download bar.
func (c *Console) Transfer(label string, ev download.Event) {
	c.redraw(func(tick int) string { return transferLine(label, ev, tick) })
}

// Extract redraws the extraction bar with the current file.
func (c *Console) Extract(ev extract.Event) {
	c.redraw(func(int) string { return percentLine("Extracting", ev.Percent, ev.File) })
}

// Cleanup redraws the cleanup bar.
func (c *Console) Cleanup(ev cleanup.Event) {
	percent := 0
	if ev.Total > 0 {
		percent = ev.Current * 100 / ev.Total
	}
	c.redraw(func(int) string {
		return percentLine("Cleaning", percent, fmt.Sprintf("%d/%d %s", ev.Current, ev.Total, ev.Label))
	})
}

// EndProgress terminates a redrawn bar line.
func (c *Console) EndProgress() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLineLocked()
}

func (c *Console) redraw(line func(tick int) string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spinning {
		c.progress.Clear()
		c.spinning = false
	}
	c.tick++
	fmt.Fprint(c.output, "\r"+clampLine(line(c.tick)))
	c.drawn = true
}

func (c *Console) finishStep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLineLocked()
	c.spinning = false
}

func (c *Console) endLineLocked() {
	if c.drawn {
		fmt.Fprintln(c.output)
		c.drawn = false
	}
}
