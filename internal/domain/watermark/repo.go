package watermark

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no cursor row exists for a source. Pollers
// must halt on this rather than assume a default position.
var ErrNotFound = errors.New("watermark cursor not found")

type Repository interface {
	// Read returns the current cursor for use as a polling lower bound.
	Read(ctx context.Context, sourceID string) (*Cursor, error)
	// Advance moves the cursor forward to (ts, id) if and only if that
	// position is ahead of the stored one. Concurrent and out-of-order calls
	// are safe; the cursor never regresses.
	Advance(ctx context.Context, sourceID string, ts time.Time, id int64) error
}
