package menu

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"psadiag/internal/app"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/release"
)

func (m *Menu) handleDownload(ctx context.Context) error {
	options, err := m.app.VersionOptions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load available versions")
	}
	if len(options) == 0 {
		return errors.New("no Diagbox versions are currently available")
	}

	latest, _ := release.PickLatest(options)
	items := make([]string, len(options))
	cursor := 0
	for i, opt := range options {
		items[i] = opt.Display
		if opt == latest {
			items[i] += " (latest)"
			cursor = i
		}
	}

	index, err := promptChoice("Version to download", items, cursor)
	if err != nil {
		return err
	}
	chosen := options[index]

	return m.runCancellable(ctx, func(ctx context.Context) error {
		report, err := m.app.Download(ctx, app.DownloadRequest{Version: chosen.Version})
		if err != nil {
			return err
		}
		if report.Skipped {
			m.console.Success("%s is already downloaded: %s", chosen.Display, report.Path)
			return nil
		}
		m.console.Success("%s downloaded (%s) to %s", chosen.Display,
			humanize.IBytes(uint64(report.Result.Bytes)), report.Path)
		return nil
	})
}

func (m *Menu) handleInstall(ctx context.Context) error {
	archives, err := m.app.LocalArchives()
	if err != nil {
		return errors.Wrap(err, "failed to list downloaded archives")
	}
	if len(archives) == 0 {
		return errors.New("no downloaded archive found, download a version first")
	}

	sort.SliceStable(archives, func(i, j int) bool {
		return release.Compare(archives[i].Version, archives[j].Version) > 0
	})
	items := make([]string, len(archives))
	for i, a := range archives {
		items[i] = fmt.Sprintf("%s (%s)", filepath.Base(a.Path), humanize.IBytes(uint64(a.Size)))
	}

	index, err := promptChoice("Archive to install", items, 0)
	if err != nil {
		return err
	}

	return m.runCancellable(ctx, func(ctx context.Context) error {
		report, err := m.app.Install(ctx, app.InstallRequest{Archive: archives[index].Path})
		if err != nil {
			return err
		}
		for _, w := range report.Warnings() {
			m.printer.Warn("Warning: %s", w)
		}
		if report.RebootRequired() {
			m.printer.Warn("Restart Windows to finish the VCI driver installation")
		}
		version := report.Installed
		if version == "" {
			version = report.Archive.Version
		}
		m.console.Success("Diagbox %s installed", version)
		return nil
	})
}

func (m *Menu) handleClean(ctx context.Context) error {
	return m.runCancellable(ctx, func(ctx context.Context) error {
		report, err := m.app.Clean(ctx, app.CleanRequest{})
		if err != nil {
			return err
		}
		if report.Batch.Empty() {
			m.console.Success("Nothing to clean")
			return nil
		}
		m.console.Success("%s", report.Result.Message())
		return nil
	})
}

func (m *Menu) handleKill(ctx context.Context) error {
	killed, err := m.app.Kill(ctx)
	for _, p := range killed {
		m.console.WriteLine("Stopped %s (pid %d)", p.Name, p.PID)
	}
	if err != nil {
		return err
	}
	if len(killed) == 0 {
		m.console.Success("No Diagbox process was running")
		return nil
	}
	m.console.Success("%d process(es) stopped", len(killed))
	return nil
}

func (m *Menu) handleLaunch(ctx context.Context) error {
	if err := m.app.Launch(ctx); err != nil {
		return err
	}
	m.console.Success("Diagbox started")
	return nil
}

func (m *Menu) handleLanguage(ctx context.Context) error {
	current, err := m.app.Language()
	if err != nil {
		return errors.Wrap(err, "failed to read the current language")
	}

	items := make([]string, len(installation.Languages))
	cursor := 0
	for i, l := range installation.Languages {
		items[i] = l.Code + "  " + l.Name
		if l.Code == current {
			items[i] += " (current)"
			cursor = i
		}
	}

	index, err := promptChoice("Diagbox language", items, cursor)
	if err != nil {
		return err
	}
	chosen := installation.Languages[index]
	if chosen.Code == current {
		m.console.Success("Language unchanged")
		return nil
	}

	if err := m.app.SetLanguage(ctx, chosen.Code); err != nil {
		return err
	}
	m.console.Success("Language set to %s", chosen.Name)
	return nil
}

func (m *Menu) handleStatus(ctx context.Context) error {
	PrintStatus(m.printer, m.app.Status(ctx))
	return nil
}

func (m *Menu) handleHistory(ctx context.Context) error {
	entries, err := m.app.History(ctx, history.DefaultLimit)
	if err != nil {
		return err
	}
	PrintHistory(m.printer, entries)
	return nil
}

func (m *Menu) handleSelfUpdate(ctx context.Context) error {
	update, err := m.app.CheckAppUpdate(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check for updates")
	}
	if !update.Available {
		m.console.Success("PSA-DIAG %s is up to date", update.Current)
		return nil
	}
	if !Confirm(fmt.Sprintf("Update PSA-DIAG %s to %s?", update.Current, update.Latest)) {
		return nil
	}

	return m.runCancellable(ctx, func(ctx context.Context) error {
		report, err := m.app.SelfUpdate(ctx, false)
		if err != nil {
			return err
		}
		if report.Spawned {
			m.console.Success("Update downloaded, PSA-DIAG restarts when it is applied")
			return ErrUpdateStarted
		}
		return nil
	})
}
