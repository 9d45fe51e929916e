package app

import (
	"context"
	"errors"
	"os"

	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/release"
	"psadiag/internal/selfupdate"
	"psadiag/internal/sysreq"
)

// StatusReport is a snapshot of the local installation and remote state.
// Each part is gathered independently; a failed part carries its error.
type StatusReport struct {
	AppVersion   string
	AppUpdate    release.AppUpdate
	AppUpdateErr error

	Installed    string
	InstalledErr error
	Language     string

	// Published is the package version announced as current; Latest is
	// the newest entry of the downloadable version list.
	Published    string
	PublishedErr error
	Latest       release.Option
	LatestErr    error

	Archives     []release.LocalArchive
	Requirements sysreq.Report
	LastUpdate   *selfupdate.Outcome
}

// Status gathers the StatusReport.
func (a *App) Status(ctx context.Context) StatusReport {
	report := StatusReport{AppVersion: a.cfg.App.Version}

	report.Installed, report.InstalledErr = installation.InstalledVersion(a.cfg.Paths.PackageRoot)
	if report.InstalledErr == nil {
		report.Language, _ = installation.CurrentLanguage(a.cfg.Paths.PackageRoot)
	}

	report.AppUpdate, report.AppUpdateErr = a.CheckAppUpdate(ctx)
	report.Published, report.PublishedErr = a.releases.LatestVersion(ctx, a.cfg.Endpoints.PackageVersion)
	report.Latest, report.LatestErr = a.ResolveVersion(ctx, "")
	report.Archives, _ = a.LocalArchives()
	report.Requirements = a.CheckRequirements(ctx)

	if outcome, err := a.results.Read(); err == nil {
		report.LastUpdate = &outcome
	}
	return report
}

// NotInstalled reports whether err means no installation was found.
func NotInstalled(err error) bool {
	return errors.Is(err, installation.ErrNotInstalled) || errors.Is(err, os.ErrNotExist)
}

// History returns the most recent journal entries, newest first.
func (a *App) History(ctx context.Context, limit int) ([]history.Entry, error) {
	if a.journal == nil {
		return nil, a.validationError("History", "the operation journal is not available")
	}
	return a.journal.Recent(ctx, limit)
}
