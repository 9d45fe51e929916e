// Package procstest provides an in-memory procs.Inventory for tests.
package procstest

import (
	"context"
	"errors"
	"sync"

	"psadiag/internal/procs"
)

// ErrNoProcess is returned for operations on unknown pids.
var ErrNoProcess = errors.New("no such process")

// Proc describes one fake process.
type Proc struct {
	PID   int32
	Name  string
	Exe   string
	Files []string
	// SurviveTerminate keeps the process alive after Terminate; only Kill
	// removes it.
	SurviveTerminate bool
	// Unkillable keeps the process alive even after Kill.
	Unkillable bool
}

// Fake is a concurrency-safe procs.Inventory. Terminate and Kill calls are
// recorded in order.
type Fake struct {
	mu         sync.Mutex
	procs      map[int32]Proc
	order      []int32
	listErr    error
	terminated []int32
	killed     []int32
}

// New returns a Fake populated with ps.
func New(ps ...Proc) *Fake {
	f := &Fake{procs: make(map[int32]Proc)}
	for _, p := range ps {
		f.Add(p)
	}
	return f
}

// Add registers p, replacing any process with the same pid.
func (f *Fake) Add(p Proc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[p.PID]; !ok {
		f.order = append(f.order, p.PID)
	}
	f.procs[p.PID] = p
}

// Exit removes pid as if the process had ended on its own.
func (f *Fake) Exit(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

// FailListing makes Processes return err until called again with nil.
func (f *Fake) FailListing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// Terminated returns the pids passed to Terminate.
func (f *Fake) Terminated() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.terminated...)
}

// Killed returns the pids passed to Kill.
func (f *Fake) Killed() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.killed...)
}

// Signalled reports whether pid received Terminate or Kill.
func (f *Fake) Signalled(pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range append(append([]int32(nil), f.terminated...), f.killed...) {
		if p == pid {
			return true
		}
	}
	return false
}

func (f *Fake) Processes(context.Context) ([]procs.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}

	out := make([]procs.Process, 0, len(f.procs))
	for _, pid := range f.order {
		if p, ok := f.procs[pid]; ok {
			out = append(out, procs.Process{PID: p.PID, Name: p.Name})
		}
	}
	return out, nil
}

func (f *Fake) ExePath(_ context.Context, pid int32) (string, error) {
	p, ok := f.lookup(pid)
	if !ok {
		return "", ErrNoProcess
	}
	return p.Exe, nil
}

func (f *Fake) OpenFiles(_ context.Context, pid int32) ([]string, error) {
	p, ok := f.lookup(pid)
	if !ok {
		return nil, ErrNoProcess
	}
	return append([]string(nil), p.Files...), nil
}

func (f *Fake) Exists(_ context.Context, pid int32) (bool, error) {
	_, ok := f.lookup(pid)
	return ok, nil
}

func (f *Fake) Terminate(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	p, ok := f.procs[pid]
	if !ok {
		return ErrNoProcess
	}
	if !p.SurviveTerminate && !p.Unkillable {
		delete(f.procs, pid)
	}
	return nil
}

func (f *Fake) Kill(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	p, ok := f.procs[pid]
	if !ok {
		return ErrNoProcess
	}
	if !p.Unkillable {
		delete(f.procs, pid)
	}
	return nil
}

func (f *Fake) lookup(pid int32) (Proc, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	return p, ok
}

var _ procs.Inventory = (*Fake)(nil)
