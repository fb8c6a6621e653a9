package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/inbox"
	"github.com/pabridge/pabridge/internal/domain/watermark"
)

type fakeLeader bool

func (f fakeLeader) IsLeader() bool { return bool(f) }

// memCursors is a watermark.Repository over a map with tuple-CAS advance.
type memCursors struct {
	mu      sync.Mutex
	cursors map[string]*watermark.Cursor
	readErr error
}

func newMemCursors(sourceID string) *memCursors {
	return &memCursors{cursors: map[string]*watermark.Cursor{
		sourceID: {SourceID: sourceID},
	}}
}

func (m *memCursors) Read(_ context.Context, sourceID string) (*watermark.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	c, ok := m.cursors[sourceID]
	if !ok {
		return nil, watermark.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCursors) Advance(_ context.Context, sourceID string, ts time.Time, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[sourceID]
	if !ok {
		return watermark.ErrNotFound
	}
	if c.Before(ts, id) {
		c.LastSeenTimestamp = ts
		c.LastSeenID = id
		c.UpdatedAt = time.Now()
	}
	return nil
}

// fakeSource serves rows after a watermark position from a fixed slice.
type fakeSource struct {
	mu   sync.Mutex
	rows []SourceRow
	err  error
}

func (f *fakeSource) FetchAfter(_ context.Context, ts time.Time, id int64, limit int) ([]SourceRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []SourceRow
	for _, r := range f.rows {
		after := r.CreatedAt.After(ts) || (r.CreatedAt.Equal(ts) && r.ID > id)
		if after {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func sourceRows(n int) []SourceRow {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := make([]SourceRow, n)
	for i := range rows {
		rows[i] = SourceRow{
			ID:          int64(i + 1),
			MessageID:   "src-" + string(rune('a'+i)),
			MessageType: inbox.TypeFilePackage,
			Payload:     []byte(`{}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
	}
	return rows
}

const testSource = "pa_requests"

func newTestPoller(src SourceReader, repo inbox.Repository, cursors watermark.Repository, batch int) (*Poller, *inbox.Service) {
	svc := inbox.NewService(repo, zerolog.Nop(), 5, true)
	p := New(src, svc, cursors, fakeLeader(true), testSource, time.Hour, batch, zerolog.Nop())
	return p, svc
}

func TestPollOnce_EnqueuesAndAdvances(t *testing.T) {
	src := &fakeSource{rows: sourceRows(3)}
	cursors := newMemCursors(testSource)
	repo := inbox.NewMemRepo()
	p, svc := newTestPoller(src, repo, cursors, 10)

	n, err := p.pollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("saw %d rows, want 3", n)
	}

	claimed, _ := svc.Claim(context.Background(), "w1", 10)
	if len(claimed) != 3 {
		t.Errorf("inbox has %d claimable entries, want 3", len(claimed))
	}

	cur, _ := cursors.Read(context.Background(), testSource)
	if cur.LastSeenID != 3 {
		t.Errorf("cursor last_seen_id = %d, want 3", cur.LastSeenID)
	}
}

func TestPollOnce_ReplayIsDeduplicated(t *testing.T) {
	src := &fakeSource{rows: sourceRows(3)}
	cursors := newMemCursors(testSource)
	repo := inbox.NewMemRepo()
	p, svc := newTestPoller(src, repo, cursors, 10)
	ctx := context.Background()

	if _, err := p.pollOnce(ctx); err != nil {
		t.Fatal(err)
	}

	// Reset the cursor to simulate a crash between enqueue and advance.
	cursors.mu.Lock()
	cursors.cursors[testSource].LastSeenTimestamp = time.Time{}
	cursors.cursors[testSource].LastSeenID = 0
	cursors.mu.Unlock()

	if _, err := p.pollOnce(ctx); err != nil {
		t.Fatal(err)
	}

	claimed, _ := svc.Claim(ctx, "w1", 100)
	if len(claimed) != 3 {
		t.Errorf("replayed rows duplicated: %d entries, want 3", len(claimed))
	}
}

func TestPollOnce_CursorReadFailureHalts(t *testing.T) {
	src := &fakeSource{rows: sourceRows(3)}
	cursors := newMemCursors(testSource)
	cursors.readErr = errors.New("cursor table unavailable")
	repo := inbox.NewMemRepo()
	p, svc := newTestPoller(src, repo, cursors, 10)

	if _, err := p.pollOnce(context.Background()); err == nil {
		t.Fatal("expected cursor read error to halt the cycle")
	}
	claimed, _ := svc.Claim(context.Background(), "w1", 10)
	if len(claimed) != 0 {
		t.Errorf("rows enqueued despite unknown cursor position: %d", len(claimed))
	}
}

// failAfterRepo errors on the nth enqueue.
type failAfterRepo struct {
	*inbox.MemRepo
	n     int
	count int
}

func (f *failAfterRepo) Enqueue(ctx context.Context, e *inbox.Entry) (bool, error) {
	f.count++
	if f.count > f.n {
		return false, errors.New("insert failed")
	}
	return f.MemRepo.Enqueue(ctx, e)
}

func TestPollOnce_PartialBatchAdvancesToLastSuccess(t *testing.T) {
	src := &fakeSource{rows: sourceRows(3)}
	cursors := newMemCursors(testSource)
	repo := &failAfterRepo{MemRepo: inbox.NewMemRepo(), n: 2}
	p, _ := newTestPoller(src, repo, cursors, 10)

	if _, err := p.pollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	cur, _ := cursors.Read(context.Background(), testSource)
	if cur.LastSeenID != 2 {
		t.Errorf("cursor last_seen_id = %d, want 2 (last durable enqueue)", cur.LastSeenID)
	}
}

func TestDrain_PullsUntilCaughtUp(t *testing.T) {
	src := &fakeSource{rows: sourceRows(5)}
	cursors := newMemCursors(testSource)
	repo := inbox.NewMemRepo()
	p, svc := newTestPoller(src, repo, cursors, 2)

	p.drain(context.Background())

	claimed, _ := svc.Claim(context.Background(), "w1", 100)
	if len(claimed) != 5 {
		t.Errorf("drain enqueued %d entries, want 5", len(claimed))
	}
	cur, _ := cursors.Read(context.Background(), testSource)
	if cur.LastSeenID != 5 {
		t.Errorf("cursor last_seen_id = %d, want 5", cur.LastSeenID)
	}
}

func TestRun_NonLeaderDoesNotPoll(t *testing.T) {
	src := &fakeSource{rows: sourceRows(2)}
	cursors := newMemCursors(testSource)
	repo := inbox.NewMemRepo()
	svc := inbox.NewService(repo, zerolog.Nop(), 5, true)
	p := New(src, svc, cursors, fakeLeader(false), testSource, 10*time.Millisecond, 10, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	claimed, _ := svc.Claim(context.Background(), "w1", 10)
	if len(claimed) != 0 {
		t.Errorf("non-leader polled %d rows", len(claimed))
	}
}
