package procs

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// System is the Inventory backed by the host process table.
type System struct{}

func (System) Processes(ctx context.Context) ([]Process, error) {
	list, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]Process, 0, len(list))
	for _, p := range list {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Exited between listing and inspection, or not ours to read.
			continue
		}
		out = append(out, Process{PID: p.Pid, Name: name})
	}
	return out, nil
}

func (System) ExePath(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.ExeWithContext(ctx)
}

func (System) OpenFiles(ctx context.Context, pid int32) ([]string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, err
	}
	files, err := p.OpenFilesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

func (System) Exists(ctx context.Context, pid int32) (bool, error) {
	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil || !exists {
		return exists, err
	}

	// A zombie still has a pid but no longer holds anything.
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return false, nil
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return true, nil
	}
	return running, nil
}

func (System) Terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

func (System) Kill(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.KillWithContext(ctx)
}

var _ Inventory = System{}
