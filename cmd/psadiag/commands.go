package main

import (
	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"psadiag/internal/app"
	"psadiag/internal/history"
	"psadiag/internal/installation"
	"psadiag/internal/menu"
	"psadiag/internal/ui"
)

var (
	downloadVersion  string
	skipRequirements bool
	listVersions     bool
	installArchive   string
	installVersion   string
	historyLimit     int
	forceUpdate      bool
	checkOnly        bool

	downloadCmd = &cobra.Command{
		Use:   "download",
		Short: "Download a Diagbox package archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			if listVersions {
				options, err := application.VersionOptions(ctx)
				if err != nil {
					return err
				}
				for _, opt := range options {
					console.WriteLine("%-12s %s", opt.Version, opt.Display)
				}
				return nil
			}

			report, err := application.Download(ctx, app.DownloadRequest{
				Version:          downloadVersion,
				SkipRequirements: skipRequirements,
			})
			if err != nil {
				return err
			}
			if report.Skipped {
				console.Success("Already downloaded: %s", report.Path)
				return nil
			}
			console.Success("Downloaded %s (%s) to %s", report.Option.Display,
				humanize.IBytes(uint64(report.Result.Bytes)), report.Path)
			return nil
		},
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install a downloaded Diagbox archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			report, err := application.Install(ctx, app.InstallRequest{
				Archive: installArchive,
				Version: installVersion,
			})
			if err != nil {
				return err
			}
			for _, w := range report.Warnings() {
				log.Warn("%s", w)
			}
			console.Success("Diagbox %s installed from %s", report.Installed, report.Archive.Path)
			if report.RebootRequired() {
				log.Warn("Restart Windows to finish the VCI driver installation")
			}
			return nil
		},
	}

	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove the Diagbox folders and shortcuts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			report, err := application.Clean(ctx, app.CleanRequest{})
			if err != nil {
				return err
			}
			if report.Batch.Empty() {
				console.Success("Nothing to clean")
				return nil
			}
			console.Success("%s", report.Result.Message())
			return nil
		},
	}

	killCmd = &cobra.Command{
		Use:   "kill",
		Short: "Stop every Diagbox process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			killed, err := application.Kill(cmd.Context())
			for _, p := range killed {
				console.WriteLine("Stopped %s (pid %d)", p.Name, p.PID)
			}
			if err != nil {
				return err
			}
			console.Success("%d process(es) stopped", len(killed))
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show installed and published versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			menu.PrintStatus(ui.NewPrinter(), application.Status(ctx))
			return nil
		},
	}

	languageCmd = &cobra.Command{
		Use:   "language [code]",
		Short: "Show or change the Diagbox interface language",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := application.SetLanguage(cmd.Context(), args[0]); err != nil {
					return err
				}
				console.Success("Language set to %s", installation.LookupLanguage(args[0]))
				return nil
			}

			current, err := application.Language()
			if err != nil {
				return err
			}
			for _, l := range installation.Languages {
				marker := " "
				if l.Code == current {
					marker = "*"
				}
				console.WriteLine("%s %s  %s", marker, l.Code, l.Name)
			}
			return nil
		},
	}

	launchCmd = &cobra.Command{
		Use:   "launch",
		Short: "Start Diagbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return application.Launch(cmd.Context())
		},
	}

	selfUpdateCmd = &cobra.Command{
		Use:   "self-update",
		Short: "Update PSA-DIAG to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			if checkOnly {
				update, err := application.CheckAppUpdate(ctx)
				if err != nil {
					return err
				}
				if update.Available {
					console.WriteLine("PSA-DIAG %s is available (installed %s)", update.Latest, update.Current)
				} else {
					console.Success("PSA-DIAG %s is up to date", update.Current)
				}
				return nil
			}

			report, err := application.SelfUpdate(ctx, forceUpdate)
			if err != nil {
				return err
			}
			if !report.Spawned {
				console.Success("PSA-DIAG %s is up to date", report.Update.Current)
				return nil
			}
			console.Success("Updating to %s, PSA-DIAG restarts when done", report.Update.Latest)
			return menu.ErrUpdateStarted
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := application.History(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			menu.PrintHistory(ui.NewPrinter(), entries)
			return nil
		},
	}

	menuCmd = &cobra.Command{
		Use:   "menu",
		Short: "Open the interactive menu",
		Args:  cobra.NoArgs,
		RunE:  runMenu,
	}
)

func init() {
	downloadCmd.Flags().StringVar(&downloadVersion, "version", "", "version or display name to download (default latest)")
	downloadCmd.Flags().BoolVar(&skipRequirements, "skip-requirements", false, "do not check memory and disk space")
	downloadCmd.Flags().BoolVar(&listVersions, "list", false, "list the available versions and exit")

	installCmd.Flags().StringVar(&installArchive, "archive", "", "archive file to install")
	installCmd.Flags().StringVar(&installVersion, "version", "", "downloaded version to install (default newest)")
	installCmd.MarkFlagsMutuallyExclusive("archive", "version")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultLimit, "number of entries to show")

	selfUpdateCmd.Flags().BoolVar(&forceUpdate, "force", false, "reinstall even when up to date")
	selfUpdateCmd.Flags().BoolVar(&checkOnly, "check", false, "only report whether an update is available")
}
