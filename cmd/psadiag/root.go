package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"psadiag/internal/app"
	"psadiag/internal/config"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/history"
	"psadiag/internal/logger"
	"psadiag/internal/menu"
	"psadiag/internal/ui"
)

var (
	configPath string
	logLevel   string
	logFile    string
	assumeYes  bool

	log         *logger.ColoredLogger
	console     *ui.Console
	application *app.App

	rootCmd = &cobra.Command{
		Use:               "psadiag",
		Short:             "Download, install and maintain Diagbox",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: bootstrap,
		RunE:              runMenu,
	}
)

// Execute executes the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, menu.ErrUpdateStarted) {
		if log != nil {
			log.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile(), "config file location")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file path (default <config dir>/logs/psadiag.log)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to every question")

	rootCmd.AddCommand(downloadCmd, installCmd, cleanCmd, killCmd, statusCmd,
		languageCmd, launchCmd, selfUpdateCmd, historyCmd, menuCmd)
}

func bootstrap(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return apperrors.ConfigError(apperrors.CodeConfigGeneric, "failed to load configuration", err).
			WithField("path", configPath)
	}
	paths, err := config.ResolvePaths(cfg)
	if err == nil {
		err = paths.Ensure()
	}
	if err != nil {
		return apperrors.SystemError(apperrors.CodeSystemGeneric, "failed to prepare the application directories", err)
	}

	if logFile == "" {
		logFile = paths.LogFile
	}
	log = logger.NewColoredLogger(
		logger.WithLevel(logger.ParseLevel(logLevel)),
		logger.WithRotatingFile(logFile),
	)
	console = ui.NewConsole(log, os.Stdout)

	opts := []app.Option{
		app.WithPresenter(console),
		app.WithConfirm(confirm),
	}
	journal, err := history.Open(cmd.Context(), paths.Database)
	if err != nil {
		log.Warn("Operation history unavailable: %v", err)
	} else {
		opts = append(opts, app.WithJournal(journal))
	}
	application = app.New(cfg, paths, log, opts...)

	outcome, err := application.Startup(cmd.Context())
	if err != nil {
		log.Warn("Could not read the last update result: %v", err)
	}
	if outcome != nil {
		if outcome.Success {
			console.Success("PSA-DIAG was updated successfully")
		} else {
			log.Error("The last update failed: %s", outcome.Error)
		}
	}
	return nil
}

func shutdown() {
	if application != nil {
		if err := application.Close(); err != nil && log != nil {
			log.Warn("Failed to close the history database: %v", err)
		}
	}
	if log != nil {
		_ = log.Close()
	}
}

func confirm(question string) bool {
	if assumeYes {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Warn("%s (no terminal, answering no)", question)
		return false
	}
	return menu.Confirm(question)
}

// signalContext is cancelled by SIGINT or SIGTERM, which stops the running
// operation.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runMenu(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return cmd.Help()
	}
	// The menu handles Ctrl+C itself; only SIGTERM ends it.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()
	return menu.NewMenu(application, console).ShowMainMenu(ctx)
}
