// Package selfupdate replaces the running application executable with a
// newly downloaded one: wait for the old process to exit, release processes
// still holding the file, swap the file in with retries and optionally start
// it again. Every stage re-checks live state so a failed run can simply be
// repeated.
package selfupdate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/logger"
	"psadiag/internal/pipeline"
	"psadiag/internal/procs"
)

const DefaultTimeout = 60 * time.Second

// Request describes one replacement.
type Request struct {
	Target  string
	New     string
	WaitPID int32
	Restart bool
	Timeout time.Duration
}

// Report summarises a protocol run.
type Report struct {
	WaitTimedOut bool
	// Holders still present when the release budget ran out.
	Holders []procs.Holder
	// AlreadyCurrent is set when there was nothing to replace.
	AlreadyCurrent bool
	Attempts       int
	Relaunched     bool
	RelaunchErr    error
}

// StatusFunc receives user-facing status lines.
type StatusFunc func(status string)

// Timing holds the polling intervals of the protocol.
type Timing struct {
	ExitGrace     time.Duration
	ExitPoll      time.Duration
	HolderWait    time.Duration
	HolderPoll    time.Duration
	HolderGrace   time.Duration
	RetryInterval time.Duration
}

// DefaultTiming returns the production intervals.
func DefaultTiming() Timing {
	return Timing{
		ExitGrace:     500 * time.Millisecond,
		ExitPoll:      500 * time.Millisecond,
		HolderWait:    10 * time.Second,
		HolderPoll:    500 * time.Millisecond,
		HolderGrace:   2 * time.Second,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Protocol runs replacement requests.
type Protocol struct {
	inv      procs.Inventory
	fs       FileSystem
	launcher Launcher
	log      logger.Logger
	status   StatusFunc
	self     int32
	timing   Timing
}

// Option configures a Protocol.
type Option func(*Protocol)

func WithInventory(inv procs.Inventory) Option {
	return func(p *Protocol) { p.inv = inv }
}

func WithFileSystem(fs FileSystem) Option {
	return func(p *Protocol) { p.fs = fs }
}

func WithLauncher(l Launcher) Option {
	return func(p *Protocol) { p.launcher = l }
}

func WithStatus(fn StatusFunc) Option {
	return func(p *Protocol) { p.status = fn }
}

// WithSelfPID sets the pid never treated as a holder.
func WithSelfPID(pid int32) Option {
	return func(p *Protocol) { p.self = pid }
}

func WithTiming(t Timing) Option {
	return func(p *Protocol) { p.timing = t }
}

// NewProtocol creates a Protocol backed by the OS unless overridden.
func NewProtocol(log logger.Logger, opts ...Option) *Protocol {
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}
	p := &Protocol{
		inv:      procs.System{},
		fs:       OSFileSystem{},
		launcher: DetachedLauncher{},
		log:      log.With(logger.String("component", "selfupdate")),
		status:   func(string) {},
		self:     int32(os.Getpid()),
		timing:   DefaultTiming(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes WaitForExit, ReleaseHolders, Replace and, if requested,
// Relaunch. Only Replace can fail the run; its error is a ReplaceError.
func (p *Protocol) Run(ctx context.Context, req Request) (Report, error) {
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	var rep Report
	steps := []pipeline.Step{
		{
			Name:      "Waiting for the application to exit",
			Operation: "selfupdate.WaitForExit",
			Category:  apperrors.ErrCategoryProcess,
			Fn: func(ctx context.Context) error {
				rep.WaitTimedOut = !p.WaitForExit(ctx, req.WaitPID, req.Timeout)
				return nil
			},
		},
		{
			Name:      "Releasing processes holding the executable",
			Operation: "selfupdate.ReleaseHolders",
			Category:  apperrors.ErrCategoryProcess,
			Fn: func(ctx context.Context) error {
				rep.Holders = p.ReleaseHolders(ctx, req.Target)
				return nil
			},
		},
		{
			Name:      "Replacing the executable",
			Operation: "selfupdate.Replace",
			Category:  apperrors.ErrCategoryUpdate,
			Fn: func(ctx context.Context) error {
				attempts, current, err := p.Replace(ctx, req.New, req.Target, req.Timeout)
				rep.Attempts, rep.AlreadyCurrent = attempts, current
				return err
			},
		},
	}
	if req.Restart {
		steps = append(steps, pipeline.Step{
			Name:      "Restarting the application",
			Operation: "selfupdate.Relaunch",
			Category:  apperrors.ErrCategoryUpdate,
			Fn: func(ctx context.Context) error {
				rep.RelaunchErr = p.Relaunch(ctx, req.Target)
				rep.Relaunched = rep.RelaunchErr == nil
				return nil
			},
		})
	}

	p.log.InfoContext(ctx, "update started",
		logger.String("target", req.Target),
		logger.String("new", req.New),
		logger.Int("wait_pid", int(req.WaitPID)),
		logger.Bool("restart", req.Restart),
	)

	if err := pipeline.New(p.log, steps, statusObserver{p.status}, pipeline.WrapStepError).Execute(ctx); err != nil {
		p.status("Update failed: " + err.Error())
		return rep, err
	}

	p.status("Update complete")
	p.log.InfoContext(ctx, "update finished",
		logger.Bool("already_current", rep.AlreadyCurrent),
		logger.Int("attempts", rep.Attempts),
		logger.Bool("relaunched", rep.Relaunched),
	)
	return rep, nil
}

// WaitForExit waits for pid to disappear. It reports false when the timeout
// elapsed first; that is not an error. A zero pid returns immediately.
func (p *Protocol) WaitForExit(ctx context.Context, pid int32, timeout time.Duration) bool {
	if pid <= 0 {
		return true
	}

	if !sleep(ctx, p.timing.ExitGrace) {
		return false
	}

	deadline := time.Now().Add(timeout)
	for {
		alive, err := p.inv.Exists(ctx, pid)
		if err == nil && !alive {
			p.log.InfoContext(ctx, "application exited", logger.Int("pid", int(pid)))
			return true
		}
		if time.Now().After(deadline) {
			p.log.WarnContext(ctx, "application still running, continuing anyway",
				logger.Int("pid", int(pid)), logger.Duration("waited", timeout))
			return false
		}
		if !sleep(ctx, p.timing.ExitPoll) {
			return false
		}
	}
}

// ReleaseHolders terminates processes that run target itself. Processes that
// merely have the file open are only logged and waited for. It returns the
// holders still present once the budget is spent.
func (p *Protocol) ReleaseHolders(ctx context.Context, target string) []procs.Holder {
	deadline := time.Now().Add(p.timing.HolderWait)
	reported := make(map[int32]bool)

	for {
		holders, err := procs.FindHolders(ctx, p.inv, target, p.self)
		if err != nil {
			logging.Warn(ctx, p.log, "cannot verify processes holding the executable", err)
			return nil
		}
		if len(holders) == 0 {
			return nil
		}

		for _, h := range holders {
			if !procs.SamePath(h.ExePath, target) {
				if !reported[h.PID] {
					reported[h.PID] = true
					p.log.WarnContext(ctx, "unrelated process holds the executable, leaving it alone",
						logger.Int("pid", int(h.PID)), logger.String("name", h.Name), logger.String("exe", h.ExePath))
				}
				continue
			}

			p.log.InfoContext(ctx, "stopping running instance",
				logger.Int("pid", int(h.PID)), logger.String("name", h.Name))
			if err := procs.TerminateGracefully(ctx, p.inv, h.PID, p.timing.HolderGrace); err != nil {
				p.log.WarnContext(ctx, "could not stop running instance",
					logger.Int("pid", int(h.PID)), logger.Error(err))
			}
		}

		if time.Now().After(deadline) {
			p.log.WarnContext(ctx, "processes still hold the executable", logger.Int("count", len(holders)))
			return holders
		}
		if !sleep(ctx, p.timing.HolderPoll) {
			return holders
		}
	}
}

// Replace moves newPath onto target, retrying at a fixed interval until
// timeout. It reports the number of rename attempts and whether target was
// already up to date. On exhaustion the last rename error is returned
// wrapped in a single ReplaceError.
func (p *Protocol) Replace(ctx context.Context, newPath, target string, timeout time.Duration) (int, bool, error) {
	current, err := p.alreadyReplaced(ctx, newPath, target)
	if err != nil {
		return 0, false, err
	}
	if current {
		p.log.InfoContext(ctx, "executable already up to date", logger.String("target", target))
		return 0, true, nil
	}

	attempts := 0
	operation := func() error {
		attempts++
		err := p.fs.Rename(newPath, target)
		if err == nil {
			return nil
		}
		if isPermission(err) {
			if rmErr := p.fs.Remove(target); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				p.log.Debug("could not remove locked target: %v", rmErr)
			}
		}
		return err
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     p.timing.RetryInterval,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         p.timing.RetryInterval,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	policy.Reset()

	err = backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		p.log.WarnContext(ctx, "replace attempt failed, retrying",
			logger.Int("attempt", attempts), logger.Duration("next", next), logger.Error(err))
	})
	if err != nil {
		appErr := apperrors.UpdateError(apperrors.CodeReplace,
			fmt.Sprintf("could not replace %s after %d attempts", target, attempts), err).
			WithModule("selfupdate").
			WithOperation("Replace").
			WithField("target", target)
		logging.Error(ctx, p.log, "replace failed", appErr)
		return attempts, false, appErr
	}

	if runtime.GOOS != "windows" {
		if err := p.fs.Chmod(target, 0o755); err != nil {
			p.log.WarnContext(ctx, "could not mark executable", logger.String("target", target), logger.Error(err))
		}
	}

	p.log.InfoContext(ctx, "executable replaced", logger.String("target", target), logger.Int("attempts", attempts))
	return attempts, false, nil
}

func (p *Protocol) alreadyReplaced(ctx context.Context, newPath, target string) (bool, error) {
	if procs.SamePath(newPath, target) {
		return true, nil
	}

	_, newErr := p.fs.Stat(newPath)
	_, targetErr := p.fs.Stat(target)

	switch {
	case newErr != nil && targetErr == nil:
		return true, nil
	case newErr != nil:
		return false, apperrors.UpdateError(apperrors.CodeReplace, "the new executable was not found", newErr).
			WithModule("selfupdate").
			WithOperation("Replace").
			WithField("new", newPath)
	case targetErr != nil:
		return false, nil
	}

	same, err := SameContent(p.fs, newPath, target)
	if err != nil {
		p.log.DebugContext(ctx, "could not compare executables", logger.Error(err))
		return false, nil
	}
	if !same {
		return false, nil
	}
	if err := p.fs.Remove(newPath); err != nil {
		p.log.DebugContext(ctx, "could not remove redundant new executable", logger.Error(err))
	}
	return true, nil
}

// Relaunch starts target detached. Failures are returned for reporting only.
func (p *Protocol) Relaunch(ctx context.Context, target string) error {
	if err := p.launcher.Launch(target); err != nil {
		appErr := apperrors.UpdateError(apperrors.CodeRelaunch, "could not restart the application", err).
			WithModule("selfupdate").
			WithOperation("Relaunch")
		logging.Warn(ctx, p.log, "relaunch failed", appErr)
		return appErr
	}
	p.log.InfoContext(ctx, "application restarted", logger.String("target", target))
	return nil
}

type statusObserver struct {
	status StatusFunc
}

func (o statusObserver) StepStarted(step pipeline.Step) { o.status(step.Name + "...") }
func (o statusObserver) StepDone(pipeline.Step)         {}
func (o statusObserver) StepFailed(pipeline.Step, error) {}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
