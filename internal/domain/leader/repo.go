package leader

import (
	"context"
)

type Repository interface {
	// TryAcquire attempts to take or refresh the lease for a task. It
	// succeeds when no lease exists, when the caller already holds it, or
	// when the current holder's heartbeat is older than the staleness
	// window. Returns true when the caller holds the lease afterwards.
	TryAcquire(ctx context.Context, taskName, holderID string) (bool, error)
	// Heartbeat refreshes the lease timestamp. Returns false when the caller
	// no longer holds the lease, which means leadership was lost.
	Heartbeat(ctx context.Context, taskName, holderID string) (bool, error)
	// Release drops the lease if held by the caller. Best effort on shutdown.
	Release(ctx context.Context, taskName, holderID string) error
	// List returns all leases for the operator surface.
	List(ctx context.Context) ([]Lease, error)
}
