package leader

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockLeaseRepo implements Repository over an in-memory lease table with the
// same staleness semantics as the SQL.
type mockLeaseRepo struct {
	mu        sync.Mutex
	leases    map[string]*Lease
	staleness time.Duration
	now       time.Time

	acquireErr error
}

func newMockLeaseRepo(staleness time.Duration) *mockLeaseRepo {
	return &mockLeaseRepo{
		leases:    make(map[string]*Lease),
		staleness: staleness,
		now:       time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockLeaseRepo) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *mockLeaseRepo) TryAcquire(_ context.Context, taskName, holderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	l, ok := m.leases[taskName]
	if !ok {
		m.leases[taskName] = &Lease{TaskName: taskName, HolderID: holderID, AcquiredAt: m.now, HeartbeatAt: m.now}
		return true, nil
	}
	if l.HolderID == holderID {
		l.HeartbeatAt = m.now
		return true, nil
	}
	if !l.IsLive(m.now, m.staleness) {
		l.HolderID = holderID
		l.AcquiredAt = m.now
		l.HeartbeatAt = m.now
		return true, nil
	}
	return false, nil
}

func (m *mockLeaseRepo) Heartbeat(_ context.Context, taskName, holderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[taskName]
	if !ok || l.HolderID != holderID {
		return false, nil
	}
	l.HeartbeatAt = m.now
	return true, nil
}

func (m *mockLeaseRepo) Release(_ context.Context, taskName, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[taskName]; ok && l.HolderID == holderID {
		l.HeartbeatAt = time.Time{}
	}
	return nil
}

func (m *mockLeaseRepo) List(_ context.Context) ([]Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lease
	for _, l := range m.leases {
		out = append(out, *l)
	}
	return out, nil
}

func testElector(repo Repository, task, holder string) *Elector {
	return NewElector(repo, task, holder, time.Hour, zerolog.Nop())
}

func TestElector_SingleHolder(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	a := testElector(repo, TaskPoller, "node-a")
	b := testElector(repo, TaskPoller, "node-b")

	a.tick(context.Background())
	b.tick(context.Background())

	if !a.IsLeader() {
		t.Error("first acquirer should lead")
	}
	if b.IsLeader() {
		t.Error("second acquirer must not lead while lease is live")
	}
}

func TestElector_ConcurrentTicksElectOne(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	a := testElector(repo, TaskPoller, "node-a")
	b := testElector(repo, TaskPoller, "node-b")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); a.tick(context.Background()) }()
		go func() { defer wg.Done(); b.tick(context.Background()) }()
	}
	wg.Wait()

	if a.IsLeader() && b.IsLeader() {
		t.Error("both holders lead the same task")
	}
	if !a.IsLeader() && !b.IsLeader() {
		t.Error("a live lease exists but nobody leads")
	}
}

func TestElector_StaleTakeover(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	a := testElector(repo, TaskPoller, "node-a")
	b := testElector(repo, TaskPoller, "node-b")

	a.tick(context.Background())
	repo.advance(91 * time.Second)
	b.tick(context.Background())

	if !b.IsLeader() {
		t.Error("stale lease should be taken over")
	}

	// The old holder's next heartbeat must observe the loss.
	a.tick(context.Background())
	if a.IsLeader() {
		t.Error("evicted holder must drop leadership on next tick")
	}
}

func TestRelease_KeepsRowAndFreesLease(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	a := testElector(repo, TaskPoller, "node-a")
	b := testElector(repo, TaskPoller, "node-b")

	a.tick(context.Background())
	if err := repo.Release(context.Background(), TaskPoller, "node-a"); err != nil {
		t.Fatal(err)
	}

	leases, _ := repo.List(context.Background())
	if len(leases) != 1 {
		t.Fatalf("lease rows = %d after release, want 1 (rows are overwritten, never deleted)", len(leases))
	}
	b.tick(context.Background())
	if !b.IsLeader() {
		t.Error("released lease should be immediately acquirable")
	}
}

func TestElector_HeartbeatKeepsLease(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	a := testElector(repo, TaskSweeper, "node-a")
	b := testElector(repo, TaskSweeper, "node-b")

	a.tick(context.Background())
	repo.advance(60 * time.Second)
	a.tick(context.Background()) // heartbeat
	repo.advance(60 * time.Second)
	b.tick(context.Background())

	if b.IsLeader() {
		t.Error("heartbeat within staleness window should block takeover")
	}
	if !a.IsLeader() {
		t.Error("heartbeating holder should keep the lease")
	}
}

func TestElector_ErrorDropsLeadership(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	a := testElector(repo, TaskLetter, "node-a")

	a.tick(context.Background())
	if !a.IsLeader() {
		t.Fatal("expected initial acquire")
	}

	repo.mu.Lock()
	repo.acquireErr = context.DeadlineExceeded
	repo.mu.Unlock()
	delete(repo.leases, TaskLetter) // force re-acquire path on next tick
	a.leading.Store(false)

	a.tick(context.Background())
	if a.IsLeader() {
		t.Error("repo error must not grant leadership")
	}
}

func TestElector_IndependentTasks(t *testing.T) {
	repo := newMockLeaseRepo(90 * time.Second)
	p := testElector(repo, TaskPoller, "node-a")
	s := testElector(repo, TaskSweeper, "node-b")

	p.tick(context.Background())
	s.tick(context.Background())

	if !p.IsLeader() || !s.IsLeader() {
		t.Error("different tasks must elect independently")
	}
}
