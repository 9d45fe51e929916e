package app

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"psadiag/internal/cleanup"
	"psadiag/internal/deployer"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/logger"
	"psadiag/internal/pipeline"
	"psadiag/internal/procs"
)

// CleanRequest controls the cleanup flow.
type CleanRequest struct {
	// Confirmed skips the confirmation question.
	Confirmed bool
}

// CleanReport describes a finished cleanup flow.
type CleanReport struct {
	Killed []procs.Process
	Batch  cleanup.Batch
	Result cleanup.Result
	Driver deployer.Report
}

// Clean stops the package processes and removes every configured folder and
// shortcut that exists. Folders holding the driver installer are removed
// only once the VCI driver has been uninstalled.
func (a *App) Clean(ctx context.Context, req CleanRequest) (CleanReport, error) {
	var report CleanReport
	err := a.track(ctx, history.KindClean, func(ctx context.Context) (outcome, error) {
		var err error
		report, err = a.clean(ctx, req)
		out := outcome{message: report.Result.Message()}
		if report.Batch.Empty() && err == nil {
			out.status, out.message = history.OutcomeSkipped, "nothing to remove"
		}
		if errors.Is(err, ErrCancelled) {
			out.status, out.message = history.OutcomeCancelled, err.Error()
		}
		return out, err
	})
	return report, err
}

func (a *App) clean(ctx context.Context, req CleanRequest) (CleanReport, error) {
	var report CleanReport

	report.Batch = cleanup.Discover(a.remover, cleanup.Batch{
		Folders:   a.cfg.Cleanup.Folders,
		Shortcuts: a.cfg.Cleanup.Shortcuts,
	})
	if report.Batch.Empty() {
		a.log.InfoContext(ctx, "nothing to clean")
		return report, nil
	}

	if !req.Confirmed {
		question := fmt.Sprintf("Remove %d folder(s) and %d shortcut(s)?", len(report.Batch.Folders), len(report.Batch.Shortcuts))
		if !a.confirm(question) {
			return report, errors.Wrap(ErrCancelled, "cleanup not confirmed")
		}
	}

	now, later := report.Batch.Defer(a.deployer.InstallerPath())

	steps := []pipeline.Step{
		{
			Name:      "Stopping Diagbox processes",
			Operation: "KillProcesses",
			Category:  apperrors.ErrCategoryProcess,
			Fn: func(ctx context.Context) error {
				report.Killed = a.killPackageProcesses(ctx)
				return nil
			},
		},
		{
			Name:      "Removing Diagbox files",
			Operation: "Cleanup",
			Category:  apperrors.ErrCategoryFilesystem,
			Fn: func(ctx context.Context) error {
				report.Result = a.runCleanup(ctx, now)
				return nil
			},
		},
		{
			Name:      "Removing VCI driver",
			Operation: "UninstallDriver",
			Category:  apperrors.ErrCategorySystem,
			Fn: func(ctx context.Context) error {
				report.Driver = a.deployer.UninstallDriver(ctx)
				a.log.InfoContext(ctx, "driver removal finished",
					logger.String("status", report.Driver.Status.String()),
					logger.String("message", report.Driver.Message),
				)
				return nil
			},
		},
	}
	if !later.Empty() {
		steps = append(steps, pipeline.Step{
			Name:      "Removing driver folders",
			Operation: "CleanupDriverFolders",
			Category:  apperrors.ErrCategoryFilesystem,
			Fn: func(ctx context.Context) error {
				if !report.Driver.Status.OK() {
					a.log.WarnContext(ctx, "keeping driver installer folders",
						logger.Int("folders", len(later.Folders)),
						logger.String("reason", report.Driver.Message),
					)
					report.Result = report.Result.Merge(cleanup.Kept(later.Folders, "kept for the driver installer: "+report.Driver.Message))
					return nil
				}
				report.Result = report.Result.Merge(a.runCleanup(ctx, later))
				return nil
			},
		})
	}

	if err := a.steps(ctx, steps); err != nil {
		return report, err
	}
	return report, report.Result.Err()
}

func (a *App) runCleanup(ctx context.Context, batch cleanup.Batch) cleanup.Result {
	if batch.Empty() {
		return cleanup.Result{}
	}
	op := cleanup.New(batch, a.remover, a.log)
	op.Start(ctx)
	for ev := range op.Events() {
		a.view.Cleanup(ev)
	}
	a.view.EndProgress()
	return <-op.Result()
}

// Kill stops every package process.
func (a *App) Kill(ctx context.Context) ([]procs.Process, error) {
	var killed []procs.Process
	err := a.track(ctx, history.KindKill, func(ctx context.Context) (outcome, error) {
		list, err := procs.KillByName(ctx, a.inv, a.cfg.Processes)
		killed = list
		out := outcome{message: fmt.Sprintf("%d process(es) stopped", len(list))}
		if err != nil {
			return out, apperrors.ProcessError(apperrors.CodeProcessKill, "some processes could not be stopped", err).
				WithModule("app").
				WithOperation("Kill")
		}
		return out, nil
	})
	return killed, err
}

// killPackageProcesses is the non-fatal variant used before install and
// cleanup.
func (a *App) killPackageProcesses(ctx context.Context) []procs.Process {
	killed, err := procs.KillByName(ctx, a.inv, a.cfg.Processes)
	if err != nil {
		code := apperrors.CodeProcessKill
		if errors.Is(err, procs.ErrUnavailable) {
			code = apperrors.CodeHolderQueryUnavailable
		}
		logging.Warn(ctx, a.log, "could not stop every Diagbox process",
			apperrors.ProcessError(code, "process sweep incomplete", err).WithModule("app"))
	}
	if len(killed) > 0 {
		a.log.InfoContext(ctx, "stopped Diagbox processes", logger.Int("count", len(killed)))
	}
	return killed
}

// Launch starts the Diagbox launcher detached from this process.
func (a *App) Launch(ctx context.Context) error {
	path := installation.LauncherPath(a.cfg.Paths.PackageRoot)
	if !installation.Installed(a.cfg.Paths.PackageRoot) {
		return a.validationError("Launch", "Diagbox launcher not found: "+path)
	}
	if err := a.launcher.Launch(path); err != nil {
		return apperrors.ProcessError(apperrors.CodeProcessGeneric, "failed to start Diagbox", err).
			WithModule("app").
			WithOperation("Launch").
			WithField("path", path)
	}
	a.log.InfoContext(ctx, "Diagbox started", logger.String("path", path))
	return nil
}

// Language returns the current Diagbox interface language code.
func (a *App) Language() (string, error) {
	return installation.CurrentLanguage(a.cfg.Paths.PackageRoot)
}

// SetLanguage changes the Diagbox interface language.
func (a *App) SetLanguage(ctx context.Context, code string) error {
	return a.track(ctx, history.KindLanguage, func(ctx context.Context) (outcome, error) {
		out := outcome{subject: code}
		if err := installation.SetLanguage(a.cfg.Paths.PackageRoot, code); err != nil {
			return out, err
		}
		a.log.InfoContext(ctx, "Diagbox language changed", logger.String("language", code))
		return out, nil
	})
}
