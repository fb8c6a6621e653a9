package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepo is an in-memory Repository with the same claim and transition
// semantics as the Postgres implementation. Used by tests and local
// development.
type MemRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	bySrc   map[string]uuid.UUID
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		entries: make(map[uuid.UUID]*Entry),
		bySrc:   make(map[string]uuid.UUID),
	}
}

func (m *MemRepo) Enqueue(_ context.Context, e *Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.bySrc[e.SourceMessageID]; dup {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	cp.Status = StatusNew
	cp.NextAttemptAt = time.Now()
	cp.CreatedAt = time.Now()
	m.entries[cp.ID] = &cp
	m.bySrc[cp.SourceMessageID] = cp.ID
	return true, nil
}

func (m *MemRepo) Claim(_ context.Context, workerID string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	var due []*Entry
	for _, e := range m.entries {
		if (e.Status == StatusNew || e.Status == StatusFailed) && !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].SourceCreatedAt.Equal(due[j].SourceCreatedAt) {
			return due[i].SourceCreatedAt.Before(due[j].SourceCreatedAt)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if len(due) > limit {
		due = due[:limit]
	}

	var out []Entry
	for _, e := range due {
		e.Status = StatusProcessing
		e.Attempt++
		w := workerID
		e.LockedBy = &w
		t := now
		e.LockedAt = &t
		out = append(out, *e)
	}
	return out, nil
}

func (m *MemRepo) MarkDone(_ context.Context, id uuid.UUID) error {
	return m.transition(id, func(e *Entry) {
		e.Status = StatusDone
		e.LockedBy, e.LockedAt = nil, nil
	})
}

func (m *MemRepo) MarkFailed(_ context.Context, id uuid.UUID, lastError string, next time.Time) error {
	return m.transition(id, func(e *Entry) {
		e.Status = StatusFailed
		e.LastError = &lastError
		e.NextAttemptAt = next
		e.LockedBy, e.LockedAt = nil, nil
	})
}

func (m *MemRepo) MarkDead(_ context.Context, id uuid.UUID, lastError string) error {
	return m.transition(id, func(e *Entry) {
		e.Status = StatusDead
		e.LastError = &lastError
		e.LockedBy, e.LockedAt = nil, nil
	})
}

func (m *MemRepo) ReclaimStale(_ context.Context, lockTimeout time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-lockTimeout)
	var n int64
	for _, e := range m.entries {
		if e.Status == StatusProcessing && e.LockedAt != nil && e.LockedAt.Before(cutoff) {
			e.Status = StatusNew
			e.LockedBy, e.LockedAt = nil, nil
			e.NextAttemptAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *MemRepo) ListDead(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Status == StatusDead {
			out = append(out, *e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemRepo) CountDead(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.Status == StatusDead {
			n++
		}
	}
	return n, nil
}

func (m *MemRepo) Requeue(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != StatusDead {
		return ErrNotFound
	}
	e.Status = StatusNew
	e.Attempt = 0
	e.LastError = nil
	e.NextAttemptAt = time.Now()
	return nil
}

func (m *MemRepo) GetByID(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// GetBySourceMessageID looks an entry up by its dedup key. Test helper.
func (m *MemRepo) GetBySourceMessageID(_ context.Context, sourceMessageID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySrc[sourceMessageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.entries[id]
	return &cp, nil
}

// ForceDue makes a retry immediately claimable. Test helper.
func (m *MemRepo) ForceDue(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.NextAttemptAt = time.Now().Add(-time.Second)
	}
}

// AgeLock backdates an entry's lock. Test helper for sweeper scenarios.
func (m *MemRepo) AgeLock(id uuid.UUID, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.LockedAt != nil {
		t := time.Now().Add(-age)
		e.LockedAt = &t
	}
}

func (m *MemRepo) transition(id uuid.UUID, fn func(*Entry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	fn(e)
	return nil
}
