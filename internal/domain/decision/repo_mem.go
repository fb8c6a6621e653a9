package decision

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemRepo is an in-memory Repository with the same semantics as the Postgres
// implementation. Used by tests and local development.
type MemRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

func NewMemRepo() *MemRepo {
	return &MemRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *MemRepo) Create(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(rec)
}

func (m *MemRepo) createLocked(rec *Record) error {
	for _, r := range m.records {
		if r.TrackingID == rec.TrackingID && r.Active {
			return ErrActiveExists
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	cp.Active = true
	m.records[cp.ID] = &cp
	return nil
}

func (m *MemRepo) Supersede(_ context.Context, oldID uuid.UUID, replacement *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.records[oldID]
	if !ok || !old.Active {
		return ErrNotFound
	}
	if replacement.ID == uuid.Nil {
		replacement.ID = uuid.New()
	}
	old.Active = false
	old.SupersededBy = &replacement.ID
	replacement.Supersedes = &oldID
	return m.createLocked(replacement)
}

func (m *MemRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemRepo) GetActiveByTrackingID(_ context.Context, trackingID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.TrackingID == trackingID && r.Active {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemRepo) Update(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	r.EsmdStatus = rec.EsmdStatus
	r.EsmdAttemptCount = rec.EsmdAttemptCount
	r.EsmdLastSentAt = rec.EsmdLastSentAt
	r.EsmdLastError = rec.EsmdLastError
	r.UTN = rec.UTN
	r.UTNStatus = rec.UTNStatus
	r.UTNReceivedAt = rec.UTNReceivedAt
	r.UTNFailPayload = rec.UTNFailPayload
	r.UTNRemediation = rec.UTNRemediation
	r.RequiresUTNFix = rec.RequiresUTNFix
	r.LetterStatus = rec.LetterStatus
	r.LetterPackage = rec.LetterPackage
	return nil
}

func (m *MemRepo) ListRequiringUTNFix(_ context.Context, limit int) ([]Record, error) {
	return m.filter(limit, func(r *Record) bool { return r.Active && r.RequiresUTNFix })
}

func (m *MemRepo) ListByLetterStatus(_ context.Context, status LetterStatus, limit int) ([]Record, error) {
	return m.filter(limit, func(r *Record) bool { return r.Active && r.LetterStatus == status })
}

func (m *MemRepo) filter(limit int, keep func(*Record) bool) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, *r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
