package procs

import (
	"context"
	"errors"
	"time"

	apperrors "psadiag/internal/errors"
)

// FindHolders lists the processes that execute target or have it open. The
// process identified by self is never reported. Failures inspecting a single
// process are skipped; only a failure to list the table is returned, wrapped
// so that errors.Is(err, ErrUnavailable) holds.
func FindHolders(ctx context.Context, inv Inventory, target string, self int32) ([]Holder, error) {
	list, err := inv.Processes(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = errors.Join(ErrUnavailable, err)
		}
		return nil, apperrors.ProcessError(apperrors.CodeHolderQueryUnavailable, "cannot enumerate processes", err).
			WithModule("procs").
			WithOperation("FindHolders").
			WithField("target", target)
	}

	var holders []Holder
	for _, p := range list {
		if ctx.Err() != nil {
			return holders, ctx.Err()
		}
		if p.PID == self {
			continue
		}

		exe, _ := inv.ExePath(ctx, p.PID)
		if SamePath(exe, target) {
			holders = append(holders, Holder{PID: p.PID, Name: p.Name, ExePath: exe})
			continue
		}

		files, err := inv.OpenFiles(ctx, p.PID)
		if err != nil {
			continue
		}
		for _, f := range files {
			if SamePath(f, target) {
				holders = append(holders, Holder{PID: p.PID, Name: p.Name, ExePath: exe})
				break
			}
		}
	}
	return holders, nil
}

// TerminateGracefully asks pid to exit, waits up to grace for it to go away
// and kills it if it is still alive. It returns an error only when the
// process survives the kill.
func TerminateGracefully(ctx context.Context, inv Inventory, pid int32, grace time.Duration) error {
	_ = inv.Terminate(ctx, pid)

	if waitGone(ctx, inv, pid, grace) {
		return nil
	}

	killErr := inv.Kill(ctx, pid)
	if waitGone(ctx, inv, pid, grace) {
		return nil
	}
	if killErr == nil {
		killErr = errors.New("process still running after kill")
	}
	return apperrors.ProcessError(apperrors.CodeProcessKill, "failed to stop process", killErr).
		WithModule("procs").
		WithOperation("TerminateGracefully").
		WithField("pid", pid)
}

const existencePoll = 100 * time.Millisecond

// waitGone polls until pid no longer exists or timeout elapses.
func waitGone(ctx context.Context, inv Inventory, pid int32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		exists, err := inv.Exists(ctx, pid)
		if err == nil && !exists {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}

		wait := existencePoll
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}
