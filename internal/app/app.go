// Package app coordinates the Diagbox lifecycle flows: each flow starts at
// most one operation at a time and forwards its events to a Presenter.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"psadiag/internal/cleanup"
	"psadiag/internal/config"
	"psadiag/internal/deployer"
	"psadiag/internal/download"
	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/extract"
	"psadiag/internal/history"
	"psadiag/internal/logger"
	"psadiag/internal/pipeline"
	"psadiag/internal/procs"
	"psadiag/internal/release"
	"psadiag/internal/selfupdate"
	"psadiag/internal/sysreq"
)

// Presenter receives step transitions and operation progress.
type Presenter interface {
	pipeline.Observer
	Transfer(label string, ev download.Event)
	Extract(ev extract.Event)
	Cleanup(ev cleanup.Event)
	EndProgress()
}

// ErrCancelled reports a flow stopped at the user's request.
var ErrCancelled = errors.New("operation cancelled")

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(question string) bool

// App wires configuration, journal and operations together.
type App struct {
	cfg      *config.Config
	paths    config.Paths
	log      logger.Logger
	view     Presenter
	confirm  ConfirmFunc
	journal  history.Repository
	releases *release.Client
	http     download.HTTPClient
	metaHTTP download.HTTPClient
	inv      procs.Inventory
	remover  cleanup.Remover
	launcher selfupdate.Launcher
	capacity sysreq.Capacity
	executor deployer.Executor
	deployer *deployer.Deployer
	starter  extract.Starter
	lookPath extract.LookPathFunc
	baseDir  string
	results  *selfupdate.ResultHandler
	exe      func() (string, error)
	pid      int32
}

// Option configures an App.
type Option func(*App)

func WithPresenter(p Presenter) Option {
	return func(a *App) {
		if p != nil {
			a.view = p
		}
	}
}

// WithConfirm sets the question callback. Without one every question is
// answered no.
func WithConfirm(fn ConfirmFunc) Option {
	return func(a *App) {
		if fn != nil {
			a.confirm = fn
		}
	}
}

func WithJournal(repo history.Repository) Option {
	return func(a *App) { a.journal = repo }
}

// WithHTTPClient replaces the client used for transfers and metadata.
func WithHTTPClient(client download.HTTPClient) Option {
	return func(a *App) {
		if client != nil {
			a.http = client
			a.metaHTTP = client
		}
	}
}

func WithInventory(inv procs.Inventory) Option {
	return func(a *App) {
		if inv != nil {
			a.inv = inv
		}
	}
}

func WithRemover(r cleanup.Remover) Option {
	return func(a *App) {
		if r != nil {
			a.remover = r
		}
	}
}

func WithLauncher(l selfupdate.Launcher) Option {
	return func(a *App) {
		if l != nil {
			a.launcher = l
		}
	}
}

func WithCapacity(p sysreq.Capacity) Option {
	return func(a *App) {
		if p != nil {
			a.capacity = p
		}
	}
}

// WithSetupExecutor replaces how the driver, runtimes and Defender
// installers are run.
func WithSetupExecutor(e deployer.Executor) Option {
	return func(a *App) {
		if e != nil {
			a.executor = e
		}
	}
}

// WithExtractor overrides how the extraction tool is found and started.
func WithExtractor(starter extract.Starter, baseDir string, lookPath extract.LookPathFunc) Option {
	return func(a *App) {
		a.starter = starter
		a.baseDir = baseDir
		a.lookPath = lookPath
	}
}

// WithExecutable overrides the running executable path and pid used by
// self-update.
func WithExecutable(exe func() (string, error), pid int32) Option {
	return func(a *App) {
		if exe != nil {
			a.exe = exe
		}
		if pid > 0 {
			a.pid = pid
		}
	}
}

// New creates an App. Directories from paths are created on first use.
func New(cfg *config.Config, paths config.Paths, log logger.Logger, opts ...Option) *App {
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}

	a := &App{
		cfg:      cfg,
		paths:    paths,
		log:      log,
		view:     nopPresenter{},
		confirm:  func(string) bool { return false },
		http:     download.NewHTTPClient(cfg.Download.Timeout),
		inv:      procs.System{},
		remover:  cleanup.OSRemover{},
		launcher: selfupdate.DetachedLauncher{},
		capacity: sysreq.HostCapacity{},
		baseDir:  extract.ExecutableDir(),
		exe:      os.Executable,
		pid:      int32(os.Getpid()),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.metaHTTP == nil {
		a.metaHTTP = &http.Client{Timeout: cfg.Endpoints.Timeout}
	}
	a.releases = release.NewClient(a.metaHTTP, log, cfg.Endpoints.MaxRetries)
	a.deployer = deployer.New(deployerConfig(cfg.Host), log, deployer.WithExecutor(a.executor))
	a.results = selfupdate.NewResultHandler(paths.ResultDir, log)
	return a
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Paths returns the resolved local directories.
func (a *App) Paths() config.Paths {
	return a.paths
}

// Close releases the journal.
func (a *App) Close() error {
	if a.journal == nil {
		return nil
	}
	return a.journal.Close()
}

// outcome is what a tracked flow reports for the journal.
type outcome struct {
	status  history.Outcome
	subject string
	message string
}

// track runs fn under a fresh operation id and journals the result.
func (a *App) track(ctx context.Context, kind history.Kind, fn func(ctx context.Context) (outcome, error)) error {
	id := uuid.New()
	ctx = logger.ContextWithOperation(ctx, logger.Operation{ID: id.String(), Kind: string(kind)})

	started := time.Now()
	out, err := fn(ctx)
	if out.status == "" {
		out.status = history.OutcomeSucceeded
		if err != nil {
			out.status = history.OutcomeFailed
		}
	}
	if out.message == "" && err != nil {
		out.message = err.Error()
	}

	a.record(ctx, history.Entry{
		ID:         id,
		Kind:       kind,
		Subject:    out.subject,
		Outcome:    out.status,
		Message:    out.message,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	return err
}

func (a *App) record(ctx context.Context, entry history.Entry) {
	if a.journal == nil {
		return
	}
	// The journal is best effort; a cancelled flow is still recorded.
	if _, err := a.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		logging.Warn(ctx, a.log, "failed to record operation", err)
	}
}

// steps runs a pipeline reporting to the presenter.
func (a *App) steps(ctx context.Context, steps []pipeline.Step) error {
	return pipeline.New(a.log, steps, a.view, pipeline.WrapStepError).Execute(ctx)
}

func deployerConfig(host config.HostConfig) deployer.Config {
	return deployer.Config{
		DefenderExclusions: host.DefenderExclusions,
		PowerShell:         host.PowerShell,
		Driver: deployer.DriverConfig{
			Installer: host.Driver.Installer,
			Source:    host.Driver.Source,
			Marker:    host.Driver.Marker,
			INF:       host.Driver.INF,
		},
		Runtimes: deployer.RuntimesConfig{
			Installer: host.Runtimes.Installer,
			Args:      host.Runtimes.Args,
		},
	}
}

func (a *App) validationError(operation, message string) *apperrors.AppError {
	return apperrors.ValidationError(apperrors.CodeValidationGeneric, message, nil).
		WithModule("app").
		WithOperation(operation)
}

type nopPresenter struct{}

func (nopPresenter) StepStarted(pipeline.Step)       {}
func (nopPresenter) StepDone(pipeline.Step)          {}
func (nopPresenter) StepFailed(pipeline.Step, error) {}
func (nopPresenter) Transfer(string, download.Event) {}
func (nopPresenter) Extract(extract.Event)           {}
func (nopPresenter) Cleanup(cleanup.Event)           {}
func (nopPresenter) EndProgress()                    {}
