package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an entry id does not exist.
	ErrNotFound = errors.New("inbox entry not found")
	// ErrPermanent wraps processing failures that no retry can fix. The
	// service sends such entries straight to DEAD when fail-fast is enabled.
	ErrPermanent = errors.New("permanent failure")
)

type Repository interface {
	// Enqueue inserts a new entry, deduplicating on source_message_id.
	// Returns false when the message was already present.
	Enqueue(ctx context.Context, e *Entry) (bool, error)
	// Claim atomically moves up to limit due entries to PROCESSING under the
	// given worker id and returns them with the incremented attempt count.
	Claim(ctx context.Context, workerID string, limit int) ([]Entry, error)
	// MarkDone finishes a PROCESSING entry.
	MarkDone(ctx context.Context, id uuid.UUID) error
	// MarkFailed schedules a retry at nextAttemptAt, recording the error.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, nextAttemptAt time.Time) error
	// MarkDead parks the entry for operator attention.
	MarkDead(ctx context.Context, id uuid.UUID, lastError string) error
	// ReclaimStale resets PROCESSING entries whose lock is older than
	// lockTimeout back to claimable, preserving the attempt count. Returns
	// the number reclaimed.
	ReclaimStale(ctx context.Context, lockTimeout time.Duration) (int64, error)
	// ListDead returns DEAD entries, oldest first.
	ListDead(ctx context.Context, limit int) ([]Entry, error)
	// CountDead returns the dead-letter backlog size.
	CountDead(ctx context.Context) (int64, error)
	// Requeue returns a DEAD entry to NEW with a fresh attempt budget.
	Requeue(ctx context.Context, id uuid.UUID) error
	// GetByID fetches a single entry.
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
}
