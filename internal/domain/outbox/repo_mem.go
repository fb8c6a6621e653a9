package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepo is an in-memory Repository. Used by tests and local development.
type MemRepo struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemRepo() *MemRepo {
	return &MemRepo{}
}

func (m *MemRepo) Append(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	// Monotonic timestamps keep chain ordering stable under fast appends.
	e.CreatedAt = time.Now().Add(time.Duration(len(m.entries)) * time.Millisecond)
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MemRepo) GetLatestByTrackingID(_ context.Context, trackingID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].TrackingID == trackingID {
			cp := m.entries[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemRepo) GetChain(_ context.Context, trackingID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.TrackingID == trackingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemRepo) GetByCorrelationID(_ context.Context, correlationID uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].CorrelationID == correlationID {
			cp := m.entries[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
