package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("outbox entry not found")

type Repository interface {
	// Append inserts a new entry. Entries are never updated or deleted.
	Append(ctx context.Context, e *Entry) error
	// GetLatestByTrackingID returns the newest entry in the chain.
	GetLatestByTrackingID(ctx context.Context, trackingID string) (*Entry, error)
	// GetChain returns all entries for a tracking id, oldest first.
	GetChain(ctx context.Context, trackingID string) ([]Entry, error)
	// GetByCorrelationID resolves gateway feedback back to its send.
	GetByCorrelationID(ctx context.Context, correlationID uuid.UUID) (*Entry, error)
}
