package deployer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Command is one installer invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty keeps ours.
	Dir string
	// Interactive leaves the child's window visible.
	Interactive bool
}

// Output is what a finished command left behind.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor abstracts command execution to ease testing. A non-zero exit is
// reported through Output, not as an error.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// SystemExecutor executes commands using the local OS.
type SystemExecutor struct{}

func (SystemExecutor) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if !c.Interactive {
		cmd.SysProcAttr = hiddenProcAttr()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, err
}
