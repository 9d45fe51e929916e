// Package deployer runs the host setup around a package install: Defender
// exclusions before extraction, the VCI driver and the bundled runtimes
// after it, and the driver uninstall during cleanup. Each step reports a
// Report; none of them aborts the surrounding flow.
package deployer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/logger"
)

// Exit code of the driver installer when the driver was installed but
// Windows needs a reboot to use it.
const exitRebootRequired = 256

const maxOutputLog = 2000

// Status is the outcome of one setup step.
type Status int

const (
	StatusDone Status = iota
	StatusRebootRequired
	StatusAlreadyPresent
	// StatusSkipped: there was nothing to do.
	StatusSkipped
	// StatusMissing: the installer the step needs is not on disk.
	StatusMissing
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusRebootRequired:
		return "reboot required"
	case StatusAlreadyPresent:
		return "already present"
	case StatusSkipped:
		return "skipped"
	case StatusMissing:
		return "missing"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OK reports whether the step left the host in the wanted state.
func (s Status) OK() bool {
	return s != StatusMissing && s != StatusFailed
}

// Report describes one setup step.
type Report struct {
	Component string
	Status    Status
	Message   string
	ExitCode  int
	Err       error
}

// Warning returns the text to surface to the user, or "" when the step
// went fine.
func (r Report) Warning() string {
	if r.Status.OK() {
		return ""
	}
	return r.Component + ": " + r.Message
}

// DriverConfig locates the VCI driver installer (DPInst) and its artefacts.
type DriverConfig struct {
	Installer string
	// Source is the folder passed to the installer with /PATH.
	Source string
	// Marker exists in the driver store once the driver is installed.
	Marker string
	// INF is the installed driver definition used to uninstall it.
	INF string
}

// RuntimesConfig locates the bundled runtimes installer.
type RuntimesConfig struct {
	Installer string
	Args      []string
}

// Config lists everything the deployer touches.
type Config struct {
	DefenderExclusions []string
	PowerShell         string
	Driver             DriverConfig
	Runtimes           RuntimesConfig
}

// StatFunc is os.Stat, replaceable in tests.
type StatFunc func(path string) (os.FileInfo, error)

// Deployer runs the setup steps.
type Deployer struct {
	cfg  Config
	exec Executor
	stat StatFunc
	log  logger.Logger
}

// Option configures a Deployer.
type Option func(*Deployer)

func WithExecutor(e Executor) Option {
	return func(d *Deployer) {
		if e != nil {
			d.exec = e
		}
	}
}

func WithStat(fn StatFunc) Option {
	return func(d *Deployer) {
		if fn != nil {
			d.stat = fn
		}
	}
}

// New constructs a Deployer with the provided configuration.
func New(cfg Config, log logger.Logger, opts ...Option) *Deployer {
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}
	if cfg.PowerShell == "" {
		cfg.PowerShell = "powershell.exe"
	}
	d := &Deployer{
		cfg:  cfg,
		exec: SystemExecutor{},
		stat: os.Stat,
		log:  log.With(logger.String("component", "deployer")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// InstallerPath is where the driver installer is expected. Cleanup keeps
// the folders containing it until the driver is gone.
func (d *Deployer) InstallerPath() string {
	return d.cfg.Driver.Installer
}

// DriverInstalled reports whether the VCI driver is registered.
func (d *Deployer) DriverInstalled() bool {
	return d.exists(d.cfg.Driver.Marker)
}

// InstallDriver runs the driver installer unless the driver is already
// registered. The installer runs interactively: Windows asks the user to
// trust the driver publisher.
func (d *Deployer) InstallDriver(ctx context.Context) Report {
	const component = "VCI driver"
	drv := d.cfg.Driver

	if !d.exists(drv.Installer) {
		return d.missing(ctx, component, drv.Installer)
	}
	if d.DriverInstalled() {
		d.log.InfoContext(ctx, "VCI driver already installed", logger.String("marker", drv.Marker))
		return Report{Component: component, Status: StatusAlreadyPresent, Message: "already installed"}
	}

	out, err := d.run(ctx, Command{
		Name:        drv.Installer,
		Args:        []string{"/PATH", drv.Source},
		Dir:         filepath.Dir(drv.Installer),
		Interactive: true,
	})
	if err != nil {
		return d.failed(ctx, component, apperrors.CodeDriver, "could not start the driver installer", out, err)
	}

	switch {
	case out.ExitCode == exitRebootRequired:
		d.log.InfoContext(ctx, "VCI driver installed, reboot required")
		return Report{Component: component, Status: StatusRebootRequired, Message: "installed, restart Windows to finish", ExitCode: out.ExitCode}
	case out.ExitCode != 0:
		return d.failed(ctx, component, apperrors.CodeDriver, fmt.Sprintf("driver installer exited with code %d", out.ExitCode), out, nil)
	case !d.DriverInstalled():
		return d.failed(ctx, component, apperrors.CodeDriver, "driver installer finished but the driver is not registered", out, nil)
	}

	d.log.InfoContext(ctx, "VCI driver installed")
	return Report{Component: component, Status: StatusDone, Message: "installed"}
}

// UninstallDriver removes the VCI driver through its installer. Driver
// files are never deleted by hand.
func (d *Deployer) UninstallDriver(ctx context.Context) Report {
	const component = "VCI driver removal"
	drv := d.cfg.Driver

	if !d.exists(drv.INF) {
		return Report{Component: component, Status: StatusSkipped, Message: "driver not installed"}
	}
	if !d.exists(drv.Installer) {
		return d.missing(ctx, component, drv.Installer)
	}

	out, err := d.run(ctx, Command{
		Name: drv.Installer,
		Args: []string{"/U", drv.INF, "/S"},
		Dir:  filepath.Dir(drv.Installer),
	})
	if err != nil {
		return d.failed(ctx, component, apperrors.CodeDriver, "could not start the driver installer", out, err)
	}
	if out.ExitCode != 0 {
		return d.failed(ctx, component, apperrors.CodeDriver, fmt.Sprintf("driver uninstall exited with code %d", out.ExitCode), out, nil)
	}

	d.log.InfoContext(ctx, "VCI driver uninstalled", logger.String("inf", drv.INF))
	return Report{Component: component, Status: StatusDone, Message: "uninstalled"}
}

// InstallRuntimes runs the bundled runtimes installer silently.
func (d *Deployer) InstallRuntimes(ctx context.Context) Report {
	const component = "Runtimes"
	rt := d.cfg.Runtimes

	if !d.exists(rt.Installer) {
		return d.missing(ctx, component, rt.Installer)
	}

	out, err := d.run(ctx, Command{Name: rt.Installer, Args: rt.Args})
	if err != nil {
		return d.failed(ctx, component, apperrors.CodeRuntimes, "could not start the runtimes installer", out, err)
	}
	if out.ExitCode != 0 {
		return d.failed(ctx, component, apperrors.CodeRuntimes, fmt.Sprintf("runtimes installer exited with code %d", out.ExitCode), out, nil)
	}

	d.log.InfoContext(ctx, "runtimes installed")
	return Report{Component: component, Status: StatusDone, Message: "installed"}
}

func (d *Deployer) run(ctx context.Context, cmd Command) (Output, error) {
	d.log.InfoContext(ctx, "running installer",
		logger.String("command", cmd.Name),
		logger.String("args", strings.Join(cmd.Args, " ")),
	)
	out, err := d.exec.Run(ctx, cmd)
	if s := strings.TrimSpace(out.Stdout); s != "" {
		d.log.DebugContext(ctx, "installer output", logger.String("stdout", truncate(s, maxOutputLog)))
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		d.log.WarnContext(ctx, "installer error output", logger.String("stderr", truncate(s, maxOutputLog)))
	}
	return out, err
}

func (d *Deployer) missing(ctx context.Context, component, path string) Report {
	d.log.WarnContext(ctx, "installer not found", logger.String("component", component), logger.String("path", path))
	return Report{Component: component, Status: StatusMissing, Message: "installer not found: " + path}
}

func (d *Deployer) failed(ctx context.Context, component, code, message string, out Output, cause error) Report {
	appErr := apperrors.SystemError(code, message, cause).
		WithModule("deployer").
		WithOperation(component).
		WithField("exit_code", out.ExitCode)
	if s := strings.TrimSpace(out.Stderr); s != "" {
		appErr = appErr.WithField("stderr", truncate(s, maxOutputLog))
	}
	logging.Warn(ctx, d.log, component+" step failed", appErr)

	if s := strings.TrimSpace(out.Stderr); s != "" {
		message += ": " + truncate(s, 400)
	}
	return Report{Component: component, Status: StatusFailed, Message: message, ExitCode: out.ExitCode, Err: appErr}
}

func (d *Deployer) exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	_, err := d.stat(path)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
