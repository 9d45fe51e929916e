// Package cleanup removes the package folders and desktop shortcuts as one
// batch in which single failures never abort the rest.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/hashicorp/go-multierror"

	apperrors "psadiag/internal/errors"
	"psadiag/internal/errors/logging"
	"psadiag/internal/logger"
	"psadiag/internal/worker"
)

// Kind distinguishes how an item is removed.
type Kind int

const (
	KindFolder Kind = iota
	KindShortcut
)

func (k Kind) String() string {
	if k == KindShortcut {
		return "shortcut"
	}
	return "folder"
}

// Item is a single path to remove.
type Item struct {
	Path string
	Kind Kind
}

// Failure records why an Item could not be removed.
type Failure struct {
	Item    Item
	Message string
	Err     error
}

// Batch is the input of a cleanup: folders are processed before shortcuts.
type Batch struct {
	Folders   []string
	Shortcuts []string
}

// Items flattens the batch in processing order.
func (b Batch) Items() []Item {
	items := make([]Item, 0, len(b.Folders)+len(b.Shortcuts))
	for _, p := range b.Folders {
		items = append(items, Item{Path: p, Kind: KindFolder})
	}
	for _, p := range b.Shortcuts {
		items = append(items, Item{Path: p, Kind: KindShortcut})
	}
	return items
}

// Empty reports whether there is nothing to remove.
func (b Batch) Empty() bool {
	return len(b.Folders) == 0 && len(b.Shortcuts) == 0
}

// Defer splits off the folders containing target: they must outlive
// whatever still needs target and are removed in a second pass.
func (b Batch) Defer(target string) (now, later Batch) {
	now.Shortcuts = b.Shortcuts
	for _, folder := range b.Folders {
		if target != "" && within(target, folder) {
			later.Folders = append(later.Folders, folder)
		} else {
			now.Folders = append(now.Folders, folder)
		}
	}
	return now, later
}

func within(target, dir string) bool {
	t, d := normalize(target), normalize(dir)
	return t == d || strings.HasPrefix(t, strings.TrimSuffix(d, "/")+"/")
}

func normalize(p string) string {
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
	}
	return p
}

// Event is emitted after each processed item.
type Event struct {
	Current int
	Total   int
	Label   string
}

// Result partitions the input: every item is in exactly one of the lists.
type Result struct {
	Succeeded []Item
	Failed    []Failure
}

// OK reports whether every item was removed.
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

// Message summarises the outcome. The success count is always included.
func (r Result) Message() string {
	if r.OK() {
		return fmt.Sprintf("Cleanup completed: %d item(s) removed", len(r.Succeeded))
	}
	return fmt.Sprintf("Cleanup finished with errors: %d item(s) removed, %d failed", len(r.Succeeded), len(r.Failed))
}

// Merge returns r followed by other.
func (r Result) Merge(other Result) Result {
	return Result{
		Succeeded: append(append([]Item(nil), r.Succeeded...), other.Succeeded...),
		Failed:    append(append([]Failure(nil), r.Failed...), other.Failed...),
	}
}

// Kept reports folders deliberately left in place as failures.
func Kept(folders []string, reason string) Result {
	var res Result
	for _, folder := range folders {
		item := Item{Path: folder, Kind: KindFolder}
		err := apperrors.FilesystemError(apperrors.CodeCleanupItem, "kept "+folder+": "+reason, nil).
			WithModule("cleanup").
			WithField("kind", item.Kind.String())
		res.Failed = append(res.Failed, Failure{Item: item, Message: reason, Err: err})
	}
	return res
}

// Err aggregates every failure, or returns nil.
func (r Result) Err() error {
	var merr *multierror.Error
	for _, f := range r.Failed {
		merr = multierror.Append(merr, f.Err)
	}
	return merr.ErrorOrNil()
}

// Remover performs the deletions.
type Remover interface {
	RemoveAll(path string) error
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
}

// OSRemover removes from the local filesystem.
type OSRemover struct{}

func (OSRemover) RemoveAll(path string) error           { return os.RemoveAll(path) }
func (OSRemover) Remove(path string) error              { return os.Remove(path) }
func (OSRemover) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

// Discover keeps only the entries of candidates that currently exist.
func Discover(fs Remover, candidates Batch) Batch {
	if fs == nil {
		fs = OSRemover{}
	}
	var found Batch
	for _, p := range candidates.Folders {
		if _, err := fs.Stat(p); err == nil {
			found.Folders = append(found.Folders, p)
		}
	}
	for _, p := range candidates.Shortcuts {
		if _, err := fs.Stat(p); err == nil {
			found.Shortcuts = append(found.Shortcuts, p)
		}
	}
	return found
}

// Operation removes one Batch.
type Operation struct {
	batch  Batch
	log    logger.Logger
	fs     Remover
	stream *worker.Stream[Event, Result]
}

// New creates an Operation; a nil fs uses the local filesystem.
func New(batch Batch, fs Remover, log logger.Logger) *Operation {
	if fs == nil {
		fs = OSRemover{}
	}
	if log == nil {
		log = logger.NewStandardLogger(logger.WithOutput(io.Discard))
	}
	return &Operation{
		batch:  batch,
		log:    log.With(logger.String("component", "cleanup")),
		fs:     fs,
		stream: worker.NewStream[Event, Result](worker.DefaultBuffer),
	}
}

func (o *Operation) Events() <-chan Event {
	return o.stream.Events()
}

func (o *Operation) Result() <-chan Result {
	return o.stream.Result()
}

func (o *Operation) Start(ctx context.Context) {
	go o.Run(ctx)
}

// Run removes every item in order. Items left when ctx is cancelled are
// recorded as failed.
func (o *Operation) Run(ctx context.Context) Result {
	items := o.batch.Items()
	total := len(items)
	var res Result

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, o.failure(ctx, item, err))
		} else if err := o.remove(item); err != nil {
			res.Failed = append(res.Failed, o.failure(ctx, item, err))
		} else {
			res.Succeeded = append(res.Succeeded, item)
			o.log.DebugContext(ctx, "removed", logger.String("path", item.Path), logger.String("kind", item.Kind.String()))
		}

		o.stream.Emit(Event{
			Current: i + 1,
			Total:   total,
			Label:   "Removing " + item.Path,
		})
	}

	o.log.InfoContext(ctx, res.Message(),
		logger.Int("succeeded", len(res.Succeeded)),
		logger.Int("failed", len(res.Failed)),
	)
	o.stream.Finish(res)
	return res
}

func (o *Operation) remove(item Item) error {
	if item.Kind == KindFolder {
		return o.fs.RemoveAll(item.Path)
	}
	err := o.fs.Remove(item.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (o *Operation) failure(ctx context.Context, item Item, err error) Failure {
	appErr := apperrors.FilesystemError(apperrors.CodeCleanupItem, "could not remove "+item.Path, err).
		WithModule("cleanup").
		WithOperation("Run").
		WithField("kind", item.Kind.String())
	logging.Warn(ctx, o.log, "cleanup item failed", appErr)

	return Failure{Item: item, Message: err.Error(), Err: appErr}
}
