package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/inbox"
)

type fakeLeader bool

func (f fakeLeader) IsLeader() bool { return bool(f) }

func TestSweeper_ReclaimsOnlyWhenLeading(t *testing.T) {
	repo := inbox.NewMemRepo()
	svc := inbox.NewService(repo, zerolog.Nop(), 5, true)
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "msg-1", "trk-1", inbox.TypeFilePackage, []byte(`{}`), time.Now())
	claimed, _ := svc.Claim(ctx, "w1", 1)
	repo.AgeLock(claimed[0].ID, time.Hour)

	// Non-leader sweeper leaves the stuck entry alone.
	s := NewSweeper(svc, fakeLeader(false), 5*time.Millisecond, time.Minute, zerolog.Nop())
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	s.Run(runCtx)
	cancel()

	e, _ := repo.GetByID(ctx, claimed[0].ID)
	if e.Status != inbox.StatusProcessing {
		t.Fatalf("non-leader swept: status %s", e.Status)
	}

	// Leader reclaims it.
	s = NewSweeper(svc, fakeLeader(true), 5*time.Millisecond, time.Minute, zerolog.Nop())
	runCtx, cancel = context.WithTimeout(ctx, 30*time.Millisecond)
	s.Run(runCtx)
	cancel()

	e, _ = repo.GetByID(ctx, claimed[0].ID)
	if e.Status != inbox.StatusNew {
		t.Errorf("status %s after leader sweep, want NEW", e.Status)
	}
}
