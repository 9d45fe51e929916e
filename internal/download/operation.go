// Package download implements the cancellable, pausable streaming transfer
// of a single package archive.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/logger"
	"psadiag/internal/progress"
	"psadiag/internal/worker"
)

const (
	DefaultChunkSize  = 8 * 1024
	DefaultFlushEvery = 100
)

// Target describes what to fetch and where to store it.
type Target struct {
	URL         string
	Destination string
	// ExpectedSize is 0 when unknown; it is then taken from Content-Length.
	ExpectedSize int64
	// Label is used in user-facing messages, defaults to the file name.
	Label string
}

func (t Target) name() string {
	if t.Label != "" {
		return t.Label
	}
	return filepath.Base(t.Destination)
}

// Event is a progress tick.
type Event struct {
	Bytes  int64
	Total  int64
	Report progress.Report
}

// Result is the single terminal outcome of an Operation.
type Result struct {
	State   State
	Message string
	Bytes   int64
	Total   int64
	Elapsed time.Duration
	Err     error
}

// OK reports whether the transfer completed.
func (r Result) OK() bool {
	return r.State == StateCompleted
}

// Operation streams one Target to disk on a worker goroutine. Pause, Resume
// and Cancel may be called from any goroutine.
type Operation struct {
	target     Target
	log        logger.Logger
	client     HTTPClient
	fs         FileSystem
	chunkSize  int
	flushEvery int
	now        func() time.Time

	state   stateMachine
	cancel  atomic.Bool
	wake    chan struct{}
	started atomic.Bool
	stream  *worker.Stream[Event, Result]

	mu        sync.Mutex
	abortBody context.CancelFunc
}

// Option configures an Operation.
type Option func(*Operation)

func WithHTTPClient(client HTTPClient) Option {
	return func(o *Operation) {
		if client != nil {
			o.client = client
		}
	}
}

func WithFileSystem(fs FileSystem) Option {
	return func(o *Operation) {
		if fs != nil {
			o.fs = fs
		}
	}
}

func WithChunkSize(size int) Option {
	return func(o *Operation) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

// WithFlushEvery sets after how many chunks the file is synced and a
// progress event emitted.
func WithFlushEvery(chunks int) Option {
	return func(o *Operation) {
		if chunks > 0 {
			o.flushEvery = chunks
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Operation) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates an Operation in state Running. Nothing is transferred until
// Run or Start is called.
func New(target Target, log logger.Logger, opts ...Option) *Operation {
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}

	o := &Operation{
		target:     target,
		log:        log.With(logger.String("component", "download")),
		client:     NewHTTPClient(0),
		fs:         OSFileSystem{},
		chunkSize:  DefaultChunkSize,
		flushEvery: DefaultFlushEvery,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
		stream:     worker.NewStream[Event, Result](worker.DefaultBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operation) Target() Target {
	return o.target
}

func (o *Operation) State() State {
	return o.state.load()
}

// Events delivers progress ticks. The channel is closed before the result is
// published.
func (o *Operation) Events() <-chan Event {
	return o.stream.Events()
}

// Result delivers exactly one terminal Result.
func (o *Operation) Result() <-chan Result {
	return o.stream.Result()
}

// Pause suspends a running transfer. The connection is kept open.
func (o *Operation) Pause() bool {
	return o.state.move(StateRunning, StatePaused)
}

// Resume continues a paused transfer.
func (o *Operation) Resume() bool {
	if !o.state.move(StatePaused, StateRunning) {
		return false
	}
	o.signal()
	return true
}

// Cancel requests cancellation. The worker observes it at the next chunk
// boundary; a read blocked on the network is interrupted.
func (o *Operation) Cancel() {
	if o.State().Terminal() {
		return
	}
	o.cancel.Store(true)
	o.signal()

	o.mu.Lock()
	abort := o.abortBody
	o.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// Start runs the transfer on its own goroutine.
func (o *Operation) Start(ctx context.Context) {
	go o.Run(ctx)
}

// Run performs the transfer synchronously and publishes its Result. It never
// panics on transfer errors; every failure ends in StateFailed.
func (o *Operation) Run(ctx context.Context) (res Result) {
	if !o.started.CompareAndSwap(false, true) {
		return Result{State: o.State(), Message: "download already started"}
	}

	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			res = o.fail(ctx, apperrors.CodeTransfer, fmt.Sprintf("unexpected failure: %v", r), nil, 0, o.target.ExpectedSize)
		}
		res.Elapsed = o.now().Sub(start)
		o.stream.Finish(res)
	}()

	return o.transfer(ctx, start)
}

func (o *Operation) transfer(ctx context.Context, start time.Time) Result {
	t := o.target
	total := t.ExpectedSize

	if o.cancelled(ctx) {
		return o.finishCancelled(ctx, nil, 0, total)
	}

	if err := o.fs.MkdirAll(filepath.Dir(t.Destination), 0o755); err != nil {
		return o.failFS(ctx, "could not create the download folder", err, 0, total)
	}

	bodyCtx, abort := context.WithCancel(ctx)
	defer abort()
	o.mu.Lock()
	o.abortBody = abort
	o.mu.Unlock()

	req, err := http.NewRequestWithContext(bodyCtx, http.MethodGet, t.URL, nil)
	if err != nil {
		return o.fail(ctx, apperrors.CodeTransfer, "invalid download address", err, 0, total)
	}
	req.Header.Set("User-Agent", userAgent)

	o.log.InfoContext(ctx, "download started", logger.String("url", t.URL), logger.String("destination", t.Destination))

	resp, err := o.client.Do(req)
	if err != nil {
		if o.cancelled(ctx) {
			return o.finishCancelled(ctx, nil, 0, total)
		}
		return o.fail(ctx, apperrors.CodeTransfer, describeTransportError(err), err, 0, total)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.fail(ctx, apperrors.CodeHTTPStatus, describeStatus(resp.StatusCode), nil, 0, total)
	}

	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
		o.log.DebugContext(ctx, "size taken from Content-Length", logger.Int64("bytes", total))
	}

	file, err := o.fs.Create(t.Destination)
	if err != nil {
		return o.failFS(ctx, "could not create the destination file", err, 0, total)
	}

	buf := make([]byte, o.chunkSize)
	var (
		written int64
		chunks  int
	)
	for {
		if o.cancelled(ctx) {
			return o.finishCancelled(ctx, file, written, total)
		}
		if o.State() == StatePaused {
			o.log.DebugContext(ctx, "download paused", logger.Int64("bytes", written))
			if !o.waitWhilePaused(ctx) {
				return o.finishCancelled(ctx, file, written, total)
			}
			o.log.DebugContext(ctx, "download resumed", logger.Int64("bytes", written))
		}

		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				_ = file.Close()
				return o.failFS(ctx, "could not write to the destination file", err, written, total)
			}
			written += int64(n)
			chunks++
			if chunks%o.flushEvery == 0 {
				if err := file.Sync(); err != nil {
					_ = file.Close()
					return o.failFS(ctx, "could not flush the destination file", err, written, total)
				}
				o.emit(written, total, start)
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			if o.cancelled(ctx) {
				return o.finishCancelled(ctx, file, written, total)
			}
			_ = file.Close()
			return o.fail(ctx, apperrors.CodeTransfer, describeTransportError(readErr), readErr, written, total)
		}
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return o.failFS(ctx, "could not flush the destination file", err, written, total)
	}
	if err := file.Close(); err != nil {
		return o.failFS(ctx, "could not close the destination file", err, written, total)
	}

	if total > 0 {
		if written < total {
			msg := fmt.Sprintf("the transfer ended early (%d of %d bytes)", written, total)
			return o.fail(ctx, apperrors.CodeTruncated, msg, nil, written, total)
		}
		o.stream.Emit(Event{Bytes: written, Total: total, Report: progress.Final()})
	}

	if _, err := o.fs.Stat(t.Destination); err != nil {
		return o.failFS(ctx, "the downloaded file is missing", err, written, total)
	}

	if !o.state.settle(StateCompleted) {
		return o.finishCancelled(ctx, nil, written, total)
	}
	o.log.InfoContext(ctx, "download completed",
		logger.String("destination", t.Destination),
		logger.Int64("bytes", written),
		logger.Duration("elapsed", o.now().Sub(start)),
	)
	return Result{
		State:   StateCompleted,
		Message: fmt.Sprintf("Download of %s completed", t.name()),
		Bytes:   written,
		Total:   total,
	}
}

func (o *Operation) emit(written, total int64, start time.Time) {
	report := progress.Estimate(written, o.now().Sub(start), total)
	o.stream.Emit(Event{Bytes: written, Total: total, Report: report})
}

func (o *Operation) cancelled(ctx context.Context) bool {
	return o.cancel.Load() || ctx.Err() != nil
}

func (o *Operation) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// waitWhilePaused blocks until resumed. It returns false if cancelled.
func (o *Operation) waitWhilePaused(ctx context.Context) bool {
	for o.State() == StatePaused {
		if o.cancelled(ctx) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-o.wake:
		}
	}
	return !o.cancelled(ctx)
}

func (o *Operation) finishCancelled(ctx context.Context, file File, written, total int64) Result {
	if file != nil {
		_ = file.Close()
		if err := o.fs.Remove(o.target.Destination); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.log.WarnContext(ctx, "could not remove partial download",
				logger.String("destination", o.target.Destination), logger.Error(err))
		}
	}

	o.state.finish(StateCancelled)
	o.log.InfoContext(ctx, "download cancelled", logger.Int64("bytes", written))
	return Result{
		State:   StateCancelled,
		Message: fmt.Sprintf("Download of %s cancelled", o.target.name()),
		Bytes:   written,
		Total:   total,
	}
}

func (o *Operation) failFS(ctx context.Context, message string, cause error, written, total int64) Result {
	appErr := apperrors.FilesystemError(apperrors.CodeTransfer, message, cause)
	return o.failWith(ctx, appErr, written, total)
}

func (o *Operation) fail(ctx context.Context, code, message string, cause error, written, total int64) Result {
	appErr := apperrors.NetworkError(code, message, cause)
	return o.failWith(ctx, appErr, written, total)
}

func (o *Operation) failWith(ctx context.Context, appErr *apperrors.AppError, written, total int64) Result {
	appErr = appErr.
		WithModule("download").
		WithOperation("Run").
		WithFields(apperrors.Metadata{
			"url":         o.target.URL,
			"destination": o.target.Destination,
			"bytes":       written,
		})
	logging.Error(ctx, o.log, "download failed", appErr)

	o.state.settle(StateFailed)
	return Result{
		State:   StateFailed,
		Message: fmt.Sprintf("Download of %s failed: %s", o.target.name(), appErr.Message),
		Bytes:   written,
		Total:   total,
		Err:     appErr,
	}
}
