package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"psadiag/internal/download"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/history"
	"psadiag/internal/logger"
	"psadiag/internal/release"
	"psadiag/internal/sysreq"
)

// DownloadRequest selects the package version to fetch.
type DownloadRequest struct {
	// Version is a version or display name; empty selects the latest.
	Version string
	// SkipRequirements bypasses the host capacity check.
	SkipRequirements bool
	// OnStart receives the running operation so a front-end can pause,
	// resume or cancel it.
	OnStart func(op *download.Operation)
}

// DownloadReport describes a finished download flow.
type DownloadReport struct {
	Option       release.Option
	Path         string
	Skipped      bool
	Requirements sysreq.Report
	Result       download.Result
}

// CheckRequirements checks the host against the configured minimums.
func (a *App) CheckRequirements(ctx context.Context) sysreq.Report {
	req := sysreq.Requirements{
		MinRAMGB:      a.cfg.Requirements.MinRAMGB,
		MinFreeDiskGB: a.cfg.Requirements.MinFreeDiskGB,
		DiskPath:      a.cfg.Requirements.DiskPath,
	}
	return sysreq.Check(ctx, a.capacity, req, a.log)
}

// VersionOptions lists the package versions published remotely.
func (a *App) VersionOptions(ctx context.Context) ([]release.Option, error) {
	return a.releases.VersionOptions(ctx, a.cfg.Endpoints.VersionOptions)
}

// ResolveVersion picks the option matching version, or the latest one.
func (a *App) ResolveVersion(ctx context.Context, version string) (release.Option, error) {
	options, err := a.VersionOptions(ctx)
	if err != nil {
		return release.Option{}, err
	}
	if len(options) == 0 {
		return release.Option{}, a.validationError("ResolveVersion", "no package versions are currently available")
	}

	if strings.TrimSpace(version) == "" {
		latest, _ := release.PickLatest(options)
		return latest, nil
	}
	opt, ok := release.Find(options, version)
	if !ok {
		return release.Option{}, a.validationError("ResolveVersion", "no download URL for version "+version).
			WithField("version", version)
	}
	return opt, nil
}

// Download fetches a package archive into the download directory. An
// archive already present with the advertised size is kept.
func (a *App) Download(ctx context.Context, req DownloadRequest) (DownloadReport, error) {
	var report DownloadReport
	err := a.track(ctx, history.KindDownload, func(ctx context.Context) (outcome, error) {
		var err error
		report, err = a.download(ctx, req)

		out := outcome{subject: report.Option.Version}
		switch {
		case report.Skipped:
			out.status, out.message = history.OutcomeSkipped, "archive already downloaded"
		case report.Result.State == download.StateCancelled:
			out.status, out.message = history.OutcomeCancelled, report.Result.Message
		default:
			out.message = report.Result.Message
		}
		return out, err
	})
	return report, err
}

func (a *App) download(ctx context.Context, req DownloadRequest) (DownloadReport, error) {
	var report DownloadReport

	if !req.SkipRequirements {
		report.Requirements = a.CheckRequirements(ctx)
		if problems := report.Requirements.Problems(); len(problems) > 0 {
			question := "System requirements not met:\n  " + strings.Join(problems, "\n  ") + "\nContinue anyway?"
			if !a.confirm(question) {
				return report, a.validationError("Download", "download cancelled: system requirements not met").
					WithField("problems", problems)
			}
		}
	}

	opt, err := a.ResolveVersion(ctx, req.Version)
	if err != nil {
		return report, err
	}
	report.Option = opt

	if err := os.MkdirAll(a.paths.DownloadDir, 0o755); err != nil {
		return report, errors.Wrapf(err, "failed to create download directory %s", a.paths.DownloadDir)
	}
	report.Path = filepath.Join(a.paths.DownloadDir, release.SanitizeFilename(opt.Version)+".7z")

	var size int64
	if a.cfg.Download.CheckSize {
		size, err = download.RemoteSize(ctx, a.http, opt.URL)
		if err != nil {
			a.log.WarnContext(ctx, "could not determine the file size", logger.String("url", opt.URL), logger.Error(err))
			size = 0
		}
	}

	if info, err := os.Stat(report.Path); err == nil {
		if size > 0 && info.Size() == size {
			a.log.InfoContext(ctx, "archive already downloaded", logger.String("path", report.Path))
			report.Skipped = true
			return report, nil
		}
		if err := os.Remove(report.Path); err != nil {
			return report, errors.Wrapf(err, "failed to remove stale archive %s", report.Path)
		}
	}

	op := download.New(download.Target{
		URL:          opt.URL,
		Destination:  report.Path,
		ExpectedSize: size,
		Label:        opt.Version,
	}, a.log,
		download.WithHTTPClient(a.http),
		download.WithChunkSize(a.cfg.Download.ChunkSize),
		download.WithFlushEvery(a.cfg.Download.FlushEvery),
	)
	op.Start(ctx)
	if req.OnStart != nil {
		req.OnStart(op)
	}

	for ev := range op.Events() {
		a.view.Transfer(opt.Version, ev)
	}
	a.view.EndProgress()

	report.Result = <-op.Result()
	if report.Result.OK() {
		return report, nil
	}
	if report.Result.State == download.StateCancelled {
		return report, errors.Wrap(ErrCancelled, report.Result.Message)
	}
	if report.Result.Err != nil {
		return report, report.Result.Err
	}
	return report, apperrors.NetworkError(apperrors.CodeTransfer, report.Result.Message, nil).WithModule("app")
}
