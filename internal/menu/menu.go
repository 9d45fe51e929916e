// Package menu is the interactive front-end: a promptui menu over the app
// flows, redrawn after every operation.
package menu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/manifoldco/promptui"
	pkgerrors "github.com/pkg/errors"

	"psadiag/internal/app"
	"psadiag/internal/installation"
	"psadiag/internal/logger"
	"psadiag/internal/ui"
)

// ErrUpdateStarted is returned by ShowMainMenu once the updater helper has
// been started; the caller must exit so the executable can be replaced.
var ErrUpdateStarted = errors.New("update helper started")

var errQuit = errors.New("quit")

// Menu coordinates the interactive workflow.
type Menu struct {
	app     *app.App
	console *ui.Console
	logger  logger.Logger
	printer *ui.Printer
}

// NewMenu creates a new menu manager instance.
func NewMenu(a *app.App, console *ui.Console) *Menu {
	var log logger.Logger = logger.NewStandardLogger()
	if console != nil && console.Logger() != nil {
		log = console.Logger()
	}

	return &Menu{
		app:     a,
		console: console,
		logger:  log,
		printer: ui.NewPrinter(),
	}
}

// ShowMainMenu displays the interactive menu until the user quits.
func (m *Menu) ShowMainMenu(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		m.clearScreen()
		m.printer.PrintBanner(m.app.Config().App.Version)
		m.displaySummary()

		options := m.buildMenuOptions()
		selected, err := m.promptUserSelection(options)
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				m.logger.Info("User cancelled operation")
				return nil
			}
			return pkgerrors.Wrap(err, "failed to process user input")
		}

		err = options[selected].Handler(ctx)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case errors.Is(err, ErrUpdateStarted):
			return err
		case errors.Is(err, app.ErrCancelled):
			m.logger.Warn("%v", err)
		case err != nil:
			m.logger.Error("Operation failed: %v", err)
		}
		m.waitForUserInput("Press Enter to continue")
	}
}

func (m *Menu) buildMenuOptions() []MenuOption {
	installed := installation.Installed(m.app.Config().Paths.PackageRoot)

	return []MenuOption{
		{Label: "1. Download Diagbox", Description: "Fetch a package archive", Handler: m.handleDownload, Color: "green", Enabled: true},
		{Label: "2. Install Diagbox", Description: "Extract a downloaded archive", Handler: m.handleInstall, Color: "green", Enabled: true},
		{Label: "3. Launch Diagbox", Description: "Start the Diagbox launcher", Handler: m.handleLaunch, Color: "cyan", Enabled: installed},
		{Label: "4. Change language", Description: "Set the Diagbox interface language", Handler: m.handleLanguage, Color: "cyan", Enabled: installed},
		{Label: "5. Clean Diagbox", Description: "Remove folders and shortcuts", Handler: m.handleClean, Color: "red", Enabled: true},
		{Label: "6. Kill Diagbox processes", Description: "Stop every package process", Handler: m.handleKill, Color: "red", Enabled: true},
		{Label: "7. Status", Description: "Installed and published versions", Handler: m.handleStatus, Color: "yellow", Enabled: true},
		{Label: "8. History", Description: "Recent operations", Handler: m.handleHistory, Color: "yellow", Enabled: true},
		{Label: "9. Update PSA-DIAG", Description: "Replace this program with the latest release", Handler: m.handleSelfUpdate, Color: "yellow", Enabled: true},
		{Label: "0. Quit", Handler: func(context.Context) error { return errQuit }, Enabled: true},
	}
}

func (m *Menu) displaySummary() {
	root := m.app.Config().Paths.PackageRoot
	version, err := installation.InstalledVersion(root)
	if err != nil {
		m.printer.PrintStatus("Diagbox", ui.StatusMissing, "not installed")
	} else {
		detail := version
		if code, err := installation.CurrentLanguage(root); err == nil {
			detail += ", " + installation.LookupLanguage(code)
		}
		m.printer.PrintStatus("Diagbox", ui.StatusOK, detail)
	}
	m.printer.PrintSeparator("-", 57)
}

// runCancellable runs fn with a context that Ctrl+C cancels, so an
// interrupt stops the running operation instead of the whole menu.
func (m *Menu) runCancellable(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	go func() {
		select {
		case <-interrupts:
			m.logger.Warn("Interrupted, stopping the current operation")
			cancel()
		case <-ctx.Done():
		}
	}()
	return fn(ctx)
}

func (m *Menu) clearScreen() {
	fmt.Print("\033[H\033[2J")
}
