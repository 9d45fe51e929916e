package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"psadiag/internal/deployer"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/extract"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/logger"
	"psadiag/internal/pipeline"
	"psadiag/internal/procs"
	"psadiag/internal/release"
)

// InstallRequest selects the archive to install.
type InstallRequest struct {
	// Archive is an explicit archive path. When empty, Version selects a
	// downloaded archive; with neither the newest downloaded one is used.
	Archive string
	Version string
	// OnStart receives the running extraction so a front-end can stop it.
	OnStart func(op *extract.Operation)
}

// InstallReport describes a finished install flow.
type InstallReport struct {
	Archive   release.LocalArchive
	Killed    []procs.Process
	Result    extract.Result
	Setup     []deployer.Report
	Installed string
}

// Warnings lists the extraction warnings followed by those of the host
// setup steps. None of them failed the install.
func (r InstallReport) Warnings() []string {
	warnings := append([]string(nil), r.Result.Warnings...)
	for _, step := range r.Setup {
		if w := step.Warning(); w != "" {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// RebootRequired reports whether a setup step needs Windows restarted.
func (r InstallReport) RebootRequired() bool {
	for _, step := range r.Setup {
		if step.Status == deployer.StatusRebootRequired {
			return true
		}
	}
	return false
}

// LocalArchives lists the downloaded package archives.
func (a *App) LocalArchives() ([]release.LocalArchive, error) {
	return release.ListArchives(a.paths.DownloadDir)
}

// Install extracts a downloaded archive into the install root. An existing
// installation must be cleaned first.
func (a *App) Install(ctx context.Context, req InstallRequest) (InstallReport, error) {
	var report InstallReport
	err := a.track(ctx, history.KindInstall, func(ctx context.Context) (outcome, error) {
		var err error
		report, err = a.install(ctx, req)
		out := outcome{subject: report.Archive.Version, message: report.Result.Message}
		if warnings := report.Warnings(); err == nil && len(warnings) > 0 {
			out.message += " (warnings: " + strings.Join(warnings, "; ") + ")"
		}
		if errors.Is(err, ErrCancelled) {
			out.status = history.OutcomeCancelled
		}
		return out, err
	})
	return report, err
}

func (a *App) install(ctx context.Context, req InstallRequest) (InstallReport, error) {
	var report InstallReport

	root := a.cfg.Paths.PackageRoot
	if current, err := installation.InstalledVersion(root); err == nil {
		question := "Diagbox " + current + " is already installed and must be removed first. Clean it now?"
		if !a.confirm(question) {
			return report, a.validationError("Install", "Diagbox "+current+" is already installed; run clean first").
				WithField("installed", current)
		}
		if _, err := a.Clean(ctx, CleanRequest{Confirmed: true}); err != nil {
			return report, errors.Wrap(err, "cleanup before install failed")
		}
	}

	archive, err := a.selectArchive(req)
	if err != nil {
		return report, err
	}
	report.Archive = archive

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
		a.setupStep("Adding Defender exclusions", "DefenderExclusions", &report, a.deployer.AddDefenderExclusions),
		{
			Name:      "Extracting " + filepath.Base(archive.Path),
			Operation: "Extract",
			Category:  apperrors.ErrCategoryExtraction,
			Fn: func(ctx context.Context) error {
				report.Result = a.extract(ctx, archive.Path, req.OnStart)
				if report.Result.OK {
					return nil
				}
				if apperrors.HasCode(report.Result.Err, apperrors.CodeExtractionStopped) {
					return errors.Wrap(ErrCancelled, report.Result.Message)
				}
				return report.Result.Err
			},
		},
		a.setupStep("Installing VCI driver", "InstallDriver", &report, a.deployer.InstallDriver),
		a.setupStep("Installing runtimes", "InstallRuntimes", &report, a.deployer.InstallRuntimes),
		{
			Name:      "Verifying installation",
			Operation: "Verify",
			Category:  apperrors.ErrCategoryFilesystem,
			Fn: func(ctx context.Context) error {
				v, err := installation.InstalledVersion(root)
				if err != nil {
					a.log.WarnContext(ctx, "installed version could not be read", logger.Error(err))
					return nil
				}
				report.Installed = v
				return nil
			},
		},
	}

	if err := a.steps(ctx, steps); err != nil {
		return report, err
	}

	a.log.InfoContext(ctx, "installation finished",
		logger.String("archive", archive.Path),
		logger.String("installed", report.Installed),
		logger.Int("warnings", len(report.Warnings())),
	)
	return report, nil
}

// setupStep wraps a host setup call. Its failures become warnings on the
// report and never stop the install.
func (a *App) setupStep(name, operation string, report *InstallReport, run func(context.Context) deployer.Report) pipeline.Step {
	return pipeline.Step{
		Name:      name,
		Operation: operation,
		Category:  apperrors.ErrCategorySystem,
		Fn: func(ctx context.Context) error {
			step := run(ctx)
			report.Setup = append(report.Setup, step)
			a.log.InfoContext(ctx, "host setup step finished",
				logger.String("component", step.Component),
				logger.String("status", step.Status.String()),
				logger.String("message", step.Message),
			)
			return nil
		},
	}
}

func (a *App) selectArchive(req InstallRequest) (release.LocalArchive, error) {
	if req.Archive != "" {
		if archive, ok := release.Stat(req.Archive); ok {
			return archive, nil
		}
		return release.LocalArchive{}, a.validationError("Install", "archive not found: "+req.Archive)
	}

	if strings.TrimSpace(req.Version) != "" {
		if archive, ok := release.FindArchive(a.paths.DownloadDir, req.Version); ok {
			return archive, nil
		}
		candidates := release.ArchiveCandidates(a.paths.DownloadDir, req.Version)
		return release.LocalArchive{}, a.validationError("Install",
			"no downloaded archive for version "+req.Version+" (looked for "+strings.Join(candidates, ", ")+")")
	}

	archives, err := a.LocalArchives()
	if err != nil {
		return release.LocalArchive{}, errors.Wrap(err, "failed to list downloaded archives")
	}
	if len(archives) == 0 {
		return release.LocalArchive{}, a.validationError("Install", "no downloaded archive in "+a.paths.DownloadDir)
	}
	newest := archives[0]
	for _, archive := range archives[1:] {
		if release.Compare(archive.Version, newest.Version) > 0 {
			newest = archive
		}
	}
	return newest, nil
}

func (a *App) extract(ctx context.Context, archive string, onStart func(*extract.Operation)) extract.Result {
	opts := []extract.Option{
		extract.WithTool(a.baseDir, a.cfg.Extractor.Candidates, a.lookPath),
		extract.WithGrace(a.cfg.Extractor.GracePeriod),
	}
	if a.starter != nil {
		opts = append(opts, extract.WithStarter(a.starter))
	}

	op := extract.New(extract.Request{
		Archive:     archive,
		Destination: a.cfg.Paths.InstallRoot,
		Password:    a.cfg.Extractor.Password,
		VerifyPaths: a.cfg.Extractor.VerifyPaths,
	}, a.log, opts...)
	op.Start(ctx)
	if onStart != nil {
		onStart(op)
	}

	for ev := range op.Events() {
		a.view.Extract(ev)
	}
	a.view.EndProgress()
	return <-op.Result()
}
