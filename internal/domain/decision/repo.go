package decision

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("decision not found")
	// ErrActiveExists is returned by Create when the tracking id already has
	// an active decision; callers must supersede instead.
	ErrActiveExists = errors.New("active decision already exists for tracking id")
	// ErrInvalidInput wraps ingest validation failures. Retrying cannot fix
	// malformed content.
	ErrInvalidInput = errors.New("invalid decision input")
)

type Repository interface {
	// Create inserts a new active decision. Fails with ErrActiveExists when
	// the tracking id already has an active record.
	Create(ctx context.Context, rec *Record) error
	// Supersede atomically retires the old active record and inserts the
	// replacement, linking the chain in both directions.
	Supersede(ctx context.Context, oldID uuid.UUID, replacement *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// GetActiveByTrackingID returns the single active record for a tracking
	// id.
	GetActiveByTrackingID(ctx context.Context, trackingID string) (*Record, error)
	// Update persists the mutable workflow fields of a record. Identity,
	// outcome, document, and chain links never change through this path.
	Update(ctx context.Context, rec *Record) error
	// ListRequiringUTNFix returns active records flagged for operator
	// correction after a tracking-number failure.
	ListRequiringUTNFix(ctx context.Context, limit int) ([]Record, error)
	// ListByLetterStatus returns active records whose letter is in the given
	// state, oldest update first.
	ListByLetterStatus(ctx context.Context, status LetterStatus, limit int) ([]Record, error)
}
