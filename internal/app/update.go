package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"psadiag/internal/download"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/history"
	"psadiag/internal/logger"
	"psadiag/internal/procs"
	"psadiag/internal/release"
	"psadiag/internal/selfupdate"
)

const (
	leftoverWatch = 5 * time.Second
	leftoverGrace = 2 * time.Second
)

// SelfUpdateReport describes the self-update flow up to the hand-off to the
// updater helper.
type SelfUpdateReport struct {
	Update     release.AppUpdate
	Asset      release.Asset
	Downloaded string
	Updater    string
	// Spawned means the helper is running and this process must exit now.
	Spawned bool
}

// CheckAppUpdate compares the published application version with ours.
func (a *App) CheckAppUpdate(ctx context.Context) (release.AppUpdate, error) {
	return a.releases.CheckAppUpdate(ctx, a.cfg.Endpoints.AppVersion, a.cfg.App.Version)
}

// SelfUpdate downloads the latest application release and starts the
// updater helper, which replaces this executable once it has exited. With
// force the download happens even when no newer version is published.
func (a *App) SelfUpdate(ctx context.Context, force bool) (SelfUpdateReport, error) {
	var report SelfUpdateReport
	err := a.track(ctx, history.KindSelfUpdate, func(ctx context.Context) (outcome, error) {
		var err error
		report, err = a.selfUpdate(ctx, force)
		out := outcome{subject: report.Update.Latest}
		if !report.Spawned && err == nil {
			out.status, out.message = history.OutcomeSkipped, "already up to date"
		} else if report.Spawned {
			out.message = "updater started"
		}
		return out, err
	})
	return report, err
}

func (a *App) selfUpdate(ctx context.Context, force bool) (SelfUpdateReport, error) {
	var report SelfUpdateReport

	update, err := a.CheckAppUpdate(ctx)
	if err != nil {
		return report, err
	}
	report.Update = update
	if !update.Available && !force {
		a.log.InfoContext(ctx, "application is up to date", logger.String("version", update.Current))
		return report, nil
	}

	asset, err := a.releases.LatestAsset(ctx, a.cfg.Endpoints.Releases, a.cfg.Update.AssetExtension)
	if err != nil {
		return report, err
	}
	report.Asset = asset

	report.Downloaded, err = a.fetchAsset(ctx, asset, update.Latest)
	if err != nil {
		return report, err
	}

	report.Updater, err = a.prepareUpdater()
	if err != nil {
		return report, err
	}

	exe, err := a.exe()
	if err != nil {
		return report, pkgerrors.Wrap(err, "failed to locate the running executable")
	}

	args := []string{
		"--target", exe,
		"--new", report.Downloaded,
		"--wait-pid", strconv.Itoa(int(a.pid)),
		"--restart",
		"--timeout", strconv.Itoa(int(a.cfg.Update.Timeout / time.Second)),
		"--result-dir", a.paths.ResultDir,
	}
	a.log.InfoContext(ctx, "launching updater helper", logger.String("updater", report.Updater), logger.Any("args", args))
	if err := a.launcher.Launch(report.Updater, args...); err != nil {
		return report, apperrors.UpdateError(apperrors.CodeUpdateGeneric, "failed to start the updater helper", err).
			WithModule("app").
			WithOperation("SelfUpdate").
			WithField("updater", report.Updater)
	}
	report.Spawned = true
	return report, nil
}

func (a *App) fetchAsset(ctx context.Context, asset release.Asset, version string) (string, error) {
	if err := os.MkdirAll(a.paths.UpdatesDir, 0o755); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to create %s", a.paths.UpdatesDir)
	}

	name := filepath.Base(asset.Name)
	if name == "" || name == "." {
		name = "psadiag-" + release.SanitizeFilename(version) + a.cfg.Update.AssetExtension
	}
	dest := filepath.Join(a.paths.UpdatesDir, name)
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.WarnContext(ctx, "could not remove previous update download", logger.String("path", dest), logger.Error(err))
	}

	op := download.New(download.Target{
		URL:          asset.URL,
		Destination:  dest,
		ExpectedSize: asset.Size,
		Label:        name,
	}, a.log, download.WithHTTPClient(a.http))
	op.Start(ctx)
	for ev := range op.Events() {
		a.view.Transfer(name, ev)
	}
	a.view.EndProgress()

	res := <-op.Result()
	switch {
	case res.OK():
		return dest, nil
	case res.State == download.StateCancelled:
		return "", pkgerrors.Wrap(ErrCancelled, res.Message)
	case res.Err != nil:
		return "", res.Err
	default:
		return "", apperrors.NetworkError(apperrors.CodeTransfer, res.Message, nil).WithModule("app")
	}
}

// prepareUpdater copies the bundled helper into the config directory so it
// survives the replacement of the install directory, and returns its path.
func (a *App) prepareUpdater() (string, error) {
	name := a.cfg.Update.UpdaterName
	persistent := filepath.Join(a.paths.ConfigDir, name)

	for _, candidate := range []string{
		filepath.Join(a.baseDir, "tools", name),
		filepath.Join(a.baseDir, name),
	} {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		if err := copyFile(candidate, persistent); err != nil {
			return "", pkgerrors.Wrapf(err, "failed to copy updater %s", candidate)
		}
		return persistent, nil
	}

	if _, err := os.Stat(persistent); err == nil {
		return persistent, nil
	}
	return "", apperrors.UpdateError(apperrors.CodeUpdateGeneric, "updater helper not found", nil).
		WithModule("app").
		WithField("name", name)
}

// Startup settles what a previous self-update left behind: it gives a
// still-running helper a moment to report, stops leftovers and returns the
// recorded outcome, if any. The outcome is reported only once.
func (a *App) Startup(ctx context.Context) (*selfupdate.Outcome, error) {
	name := a.cfg.Update.UpdaterName

	if a.updaterRunning(ctx, name) {
		watchCtx, cancel := context.WithTimeout(ctx, leftoverWatch)
		if _, err := a.results.Watch(watchCtx); err != nil {
			a.log.DebugContext(ctx, "no update result while waiting for the helper", logger.Error(err))
		}
		cancel()
	}

	if stopped, err := procs.TerminateLeftovers(ctx, a.inv, name, a.pid, leftoverGrace); err != nil {
		logging.Warn(ctx, a.log, "failed to stop leftover updater",
			apperrors.ProcessError(apperrors.CodeProcessKill, "leftover updater still running", err).WithModule("app"))
	} else if len(stopped) > 0 {
		a.log.InfoContext(ctx, "stopped leftover updater", logger.Int("count", len(stopped)))
	}

	outcome, err := a.results.Consume()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	entry := history.Entry{
		Kind:       history.KindSelfUpdate,
		Subject:    outcome.Target,
		Outcome:    history.OutcomeSucceeded,
		Message:    "update applied",
		StartedAt:  outcome.ExecutedAt,
		FinishedAt: outcome.ExecutedAt,
	}
	if !outcome.Success {
		entry.Outcome, entry.Message = history.OutcomeFailed, outcome.Error
	}
	a.record(ctx, entry)
	return &outcome, nil
}

func (a *App) updaterRunning(ctx context.Context, name string) bool {
	list, err := a.inv.Processes(ctx)
	if err != nil {
		return false
	}
	for _, p := range list {
		if p.PID != a.pid && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
