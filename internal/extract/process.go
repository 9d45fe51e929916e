package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"

	"psadiag/internal/procs"
)

// Process is a started extraction tool.
type Process interface {
	Pid() int
	Stdout() io.Reader
	// Wait must be called after Stdout reached EOF. A non-zero exit is not an
	// error: it is returned as exitCode with the captured stderr.
	Wait() (exitCode int, stderr string, err error)
	// Done is closed once Wait has returned.
	Done() <-chan struct{}
	Terminate() error
	Kill() error
}

// Starter launches the extraction tool.
type Starter interface {
	Start(ctx context.Context, name string, args []string) (Process, error)
}

// ExecStarter starts real child processes.
type ExecStarter struct {
	// Inventory is used for graceful termination; defaults to procs.System.
	Inventory procs.Inventory
}

func (s ExecStarter) Start(ctx context.Context, name string, args []string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = childProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	inv := s.Inventory
	if inv == nil {
		inv = procs.System{}
	}
	p := &execProcess{cmd: cmd, stdout: stdout, inv: inv, done: make(chan struct{})}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr bytes.Buffer
	inv    procs.Inventory
	done   chan struct{}
	once   sync.Once
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Stdout() io.Reader {
	return p.stdout
}

func (p *execProcess) Wait() (int, string, error) {
	defer p.once.Do(func() { close(p.done) })

	err := p.cmd.Wait()
	// stderr is complete once Wait returns.
	stderr := p.stderr.String()
	if err == nil {
		return 0, stderr, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), stderr, nil
	}
	return -1, stderr, err
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Terminate() error {
	return p.inv.Terminate(context.Background(), int32(p.Pid()))
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
