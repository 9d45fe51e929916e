package logger

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress describes progress indicators that can be started and stopped.
type Progress interface {
	Start(operation string)
	Stop(operation string)
	Fail(operation string)
	// Clear stops the indicator and erases its line without a final mark.
	Clear()
}

// SpinnerProgress renders a spinner-style progress indicator. It may be
// started again after Stop or Fail, one step at a time.
type SpinnerProgress struct {
	mu      sync.Mutex
	output  io.Writer
	frames  []string
	index   int
	stopCh  chan struct{}
	stopped chan struct{}
}

// NewSpinnerProgress creates a progress spinner writing to the provided output.
func NewSpinnerProgress(output io.Writer) *SpinnerProgress {
	if output == nil {
		output = io.Discard
	}

	return &SpinnerProgress{
		output: output,
		frames: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

// Start begins rendering the spinner next to message. A spinner that is
// already running is stopped silently first.
func (p *SpinnerProgress) Start(message string) {
	p.halt()

	p.mu.Lock()
	stopCh := make(chan struct{})
	stopped := make(chan struct{})
	p.stopCh, p.stopped = stopCh, stopped
	p.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.mu.Lock()
				frame := p.frames[p.index%len(p.frames)]
				p.index++
				fmt.Fprintf(p.output, "\r%s %s", frame, message)
				p.mu.Unlock()
			}
		}
	}()
}

// Stop terminates the spinner and prints a success line.
func (p *SpinnerProgress) Stop(message string) {
	p.finish("✓", message)
}

// Fail terminates the spinner and prints a failure line.
func (p *SpinnerProgress) Fail(message string) {
	p.finish("✕", message)
}

// Clear stops the spinner and erases the current line.
func (p *SpinnerProgress) Clear() {
	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.output, "\r\033[K")
}

func (p *SpinnerProgress) finish(mark, message string) {
	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.output, "\r%s %s\n", mark, message)
}

func (p *SpinnerProgress) halt() {
	p.mu.Lock()
	stopCh, stopped := p.stopCh, p.stopped
	p.stopCh, p.stopped = nil, nil
	p.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
}
