// Package extract drives the external 7-Zip console tool and turns its
// progress output into structured events.
package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/logger"
	"psadiag/internal/worker"
)

const (
	DefaultGrace          = 5 * time.Second
	DefaultVerifyAttempts = 6
	DefaultVerifyInterval = 500 * time.Millisecond

	WarningPermission = "Some files skipped due to permission errors"
	WarningCantOpen   = "The archive could not be opened by the extraction tool"

	cantOpenArchive = "Can't open as archive"
	maxWarningText  = 400
)

var permissionPatterns = []string{"permission", "access is denied", "access denied"}

// Request describes one extraction.
type Request struct {
	Archive     string
	Destination string
	Password    string
	// VerifyPaths are polled after a successful run; at least one must exist.
	VerifyPaths []string
}

// Args builds the tool command line.
func (r Request) Args() []string {
	args := []string{"x", r.Archive, "-o" + r.Destination, "-y", "-bsp1"}
	if r.Password != "" {
		args = append(args, "-p"+r.Password)
	}
	return args
}

// Event is one progress tick. Only lines with a numeric percent produce one;
// File is empty for the opening and closing events.
type Event struct {
	Percent int
	File    string
}

// Result is the terminal outcome of an extraction.
type Result struct {
	OK       bool
	Message  string
	Warnings []string
	ExitCode int
	Tool     string
	Err      error
}

// Operation runs the extraction tool once.
type Operation struct {
	req        Request
	log        logger.Logger
	starter    Starter
	baseDir    string
	candidates []string
	lookPath   LookPathFunc
	grace      time.Duration
	attempts   int
	interval   time.Duration
	exists     func(path string) bool

	stream  *worker.Stream[Event, Result]
	started atomic.Bool
	stopped atomic.Bool

	mu   sync.Mutex
	proc Process
}

// Option configures an Operation.
type Option func(*Operation)

func WithStarter(s Starter) Option {
	return func(o *Operation) {
		if s != nil {
			o.starter = s
		}
	}
}

// WithTool sets the tool search: candidates relative to baseDir, bare names
// through lookPath.
func WithTool(baseDir string, candidates []string, lookPath LookPathFunc) Option {
	return func(o *Operation) {
		o.baseDir = baseDir
		if len(candidates) > 0 {
			o.candidates = candidates
		}
		if lookPath != nil {
			o.lookPath = lookPath
		}
	}
}

func WithGrace(grace time.Duration) Option {
	return func(o *Operation) {
		if grace > 0 {
			o.grace = grace
		}
	}
}

// WithVerifyPolling sets how often and how long VerifyPaths are polled.
func WithVerifyPolling(attempts int, interval time.Duration) Option {
	return func(o *Operation) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if interval >= 0 {
			o.interval = interval
		}
	}
}

// New creates an extraction Operation for req.
func New(req Request, log logger.Logger, opts ...Option) *Operation {
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}

	o := &Operation{
		req:        req,
		log:        log.With(logger.String("component", "extract")),
		starter:    ExecStarter{},
		baseDir:    ExecutableDir(),
		candidates: DefaultCandidates(),
		grace:      DefaultGrace,
		attempts:   DefaultVerifyAttempts,
		interval:   DefaultVerifyInterval,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		stream: worker.NewStream[Event, Result](worker.DefaultBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operation) Events() <-chan Event {
	return o.stream.Events()
}

func (o *Operation) Result() <-chan Result {
	return o.stream.Result()
}

// Start runs the extraction on its own goroutine.
func (o *Operation) Start(ctx context.Context) {
	go o.Run(ctx)
}

// Stop terminates the running tool: gracefully first, forcibly after the
// grace period. Safe to call from any goroutine and more than once.
func (o *Operation) Stop() {
	o.stopped.Store(true)

	o.mu.Lock()
	p := o.proc
	o.mu.Unlock()
	if p == nil {
		return
	}

	select {
	case <-p.Done():
		return
	default:
	}

	if err := p.Terminate(); err != nil {
		o.log.Debug("terminate extraction tool: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(o.grace):
		if err := p.Kill(); err != nil {
			o.log.Debug("kill extraction tool: %v", err)
		}
	}
}

// Run performs the extraction synchronously. A final 100 percent event is
// always emitted before the Result.
func (o *Operation) Run(ctx context.Context) (res Result) {
	if !o.started.CompareAndSwap(false, true) {
		return Result{Message: "extraction already started"}
	}

	defer func() {
		if r := recover(); r != nil {
			res = o.fail(ctx, apperrors.CodeExtractionGeneric, fmt.Sprintf("unexpected failure: %v", r), nil, res)
		}
		o.stream.Emit(Event{Percent: 100})
		o.stream.Finish(res)
	}()

	return o.extract(ctx)
}

func (o *Operation) extract(ctx context.Context) Result {
	tool, err := LocateTool(o.baseDir, o.candidates, o.lookPath)
	if err != nil {
		return o.fail(ctx, apperrors.CodeExtractionToolMissing, "7-Zip executable not found", err, Result{})
	}
	res := Result{Tool: tool}

	if o.stopped.Load() || ctx.Err() != nil {
		return o.fail(ctx, apperrors.CodeExtractionStopped, "extraction stopped", ctx.Err(), res)
	}

	o.log.InfoContext(ctx, "extraction started",
		logger.String("tool", tool),
		logger.String("archive", o.req.Archive),
		logger.String("destination", o.req.Destination),
	)
	o.stream.Emit(Event{Percent: 0})

	proc, err := o.starter.Start(ctx, tool, o.req.Args())
	if err != nil {
		return o.fail(ctx, apperrors.CodeExtractionGeneric, "could not start the extraction tool", err, res)
	}
	o.mu.Lock()
	o.proc = proc
	o.mu.Unlock()

	// Covers a Stop that raced with Start as well as caller cancellation.
	if o.stopped.Load() {
		go o.Stop()
	}
	stopOnCancel := context.AfterFunc(ctx, o.Stop)
	defer stopOnCancel()

	cantOpen := o.consume(ctx, proc.Stdout())

	code, stderr, err := proc.Wait()
	res.ExitCode = code

	if o.stopped.Load() {
		return o.fail(ctx, apperrors.CodeExtractionStopped, "extraction stopped", nil, res)
	}
	if err != nil {
		return o.fail(ctx, apperrors.CodeExtractionGeneric, "the extraction tool did not finish", err, res)
	}

	res.Warnings = exitWarnings(code, stderr)
	if cantOpen || strings.Contains(stderr, cantOpenArchive) {
		res.Warnings = append(res.Warnings, WarningCantOpen)
	}
	if code != 0 {
		o.log.WarnContext(ctx, "extraction tool exited with non-zero code",
			logger.Int("exit_code", code),
			logger.String("stderr", truncate(strings.TrimSpace(stderr), maxWarningText)),
		)
	}

	if len(o.req.VerifyPaths) > 0 && !o.verify(ctx) {
		return o.fail(ctx, apperrors.CodeExtractionIncomplete,
			"Extraction incomplete or interrupted: expected files missing", nil, res)
	}

	res.OK = true
	res.Message = "Extraction completed"
	if len(res.Warnings) > 0 {
		res.Message = "Extraction completed with warnings: " + strings.Join(res.Warnings, "; ")
		for _, w := range res.Warnings {
			appErr := apperrors.ExtractionError(apperrors.CodeExtractionWarning, w, nil).WithModule("extract")
			logging.Warn(ctx, o.log, "extraction warning", appErr)
		}
	}
	o.log.InfoContext(ctx, "extraction finished", logger.Int("exit_code", code), logger.Int("warnings", len(res.Warnings)))
	return res
}

// consume reads stdout to EOF, emitting events for progress lines. It
// reports whether the tool said it could not open the archive.
func (o *Operation) consume(ctx context.Context, stdout io.Reader) bool {
	var cantOpen bool

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitProgress)

	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.Contains(text, cantOpenArchive) {
			cantOpen = true
		}

		line, ok := ParseLine(text)
		if !ok {
			o.log.DebugContext(ctx, "tool output", logger.String("line", text))
			continue
		}
		if !line.HasPercent {
			o.log.DebugContext(ctx, "progress line without numeric percent",
				logger.String("line", text), logger.String("file", line.File))
			continue
		}
		o.stream.Emit(Event{Percent: line.Percent, File: line.File})
	}

	if err := scanner.Err(); err != nil {
		o.log.WarnContext(ctx, "reading tool output failed", logger.Error(err))
		_, _ = io.Copy(io.Discard, stdout)
	}
	return cantOpen
}

func (o *Operation) verify(ctx context.Context) bool {
	for attempt := 0; attempt < o.attempts; attempt++ {
		for _, path := range o.req.VerifyPaths {
			if o.exists(path) {
				return true
			}
		}
		if attempt == o.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(o.interval):
		}
	}
	o.log.WarnContext(ctx, "post-extraction verification failed", logger.Any("paths", o.req.VerifyPaths))
	return false
}

func (o *Operation) fail(ctx context.Context, code, message string, cause error, res Result) Result {
	appErr := apperrors.ExtractionError(code, message, cause).
		WithModule("extract").
		WithOperation("Run").
		WithFields(apperrors.Metadata{
			"archive":   o.req.Archive,
			"exit_code": res.ExitCode,
		})
	logging.Error(ctx, o.log, "extraction failed", appErr)

	res.OK = false
	res.Message = message
	res.Err = appErr
	return res
}

// exitWarnings applies the exit-code policy. Every outcome is a success;
// non-zero exits only add warnings, and a silent non-zero exit adds none.
func exitWarnings(code int, stderr string) []string {
	if code == 0 {
		return nil
	}
	text := strings.TrimSpace(stderr)
	if text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	for _, pattern := range permissionPatterns {
		if strings.Contains(lower, pattern) {
			return []string{WarningPermission}
		}
	}
	return []string{fmt.Sprintf("7-Zip exited with code %d: %s", code, truncate(text, maxWarningText))}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
