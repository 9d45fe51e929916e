// Package history keeps a local journal of finished operations.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names the operation that produced an entry.
type Kind string

const (
	KindDownload   Kind = "download"
	KindInstall    Kind = "install"
	KindClean      Kind = "clean"
	KindKill       Kind = "kill"
	KindSelfUpdate Kind = "self-update"
	KindLanguage   Kind = "language"
)

// Outcome is the terminal result recorded for an operation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// Entry is one journal line.
type Entry struct {
	ID         uuid.UUID
	Kind       Kind
	Subject    string
	Outcome    Outcome
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time the operation took.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Repository describes the persistence contract for the journal.
type Repository interface {
	// Bootstrap prepares the backing store.
	Bootstrap(ctx context.Context) error
	Record(ctx context.Context, entry Entry) (Entry, error)
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
