package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func testService(repo Repository, maxAttempts int, failFast bool) *Service {
	return NewService(repo, zerolog.Nop(), maxAttempts, failFast)
}

func TestBackoffLadder(t *testing.T) {
	want := map[int]time.Duration{
		1: time.Minute,
		2: 5 * time.Minute,
		3: 15 * time.Minute,
		4: time.Hour,
		5: 6 * time.Hour,
		6: 24 * time.Hour,
		9: 24 * time.Hour,
	}
	for attempt, d := range want {
		if got := Backoff(attempt); got != d {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, d)
		}
	}
}

func TestEnqueue_Dedup(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()

	ins, err := svc.Enqueue(ctx, "msg-1", "trk-1", TypeFilePackage, []byte(`{}`), time.Now())
	if err != nil || !ins {
		t.Fatalf("first enqueue: inserted=%v err=%v", ins, err)
	}
	ins, err = svc.Enqueue(ctx, "msg-1", "trk-1", TypeFilePackage, []byte(`{}`), time.Now())
	if err != nil {
		t.Fatalf("duplicate enqueue errored: %v", err)
	}
	if ins {
		t.Error("duplicate source_message_id must not insert")
	}
}

func TestEnqueue_RequiresSourceMessageID(t *testing.T) {
	svc := testService(NewMemRepo(), 5, true)
	if _, err := svc.Enqueue(context.Background(), "", "trk-1", TypeFilePackage, nil, time.Now()); err == nil {
		t.Error("expected error for empty source message id")
	}
}

func TestClaim_OrderAndExclusivity(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(ctx, fmt.Sprintf("msg-%d", i), "trk-1", TypeFilePackage, []byte(`{}`), base.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatal(err)
		}
	}

	first, err := svc.Claim(ctx, "w1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("claimed %d, want 2", len(first))
	}
	if first[0].SourceMessageID != "msg-0" || first[1].SourceMessageID != "msg-1" {
		t.Errorf("claim out of source order: %s, %s", first[0].SourceMessageID, first[1].SourceMessageID)
	}
	if first[0].Attempt != 1 {
		t.Errorf("attempt = %d after first claim, want 1", first[0].Attempt)
	}

	second, err := svc.Claim(ctx, "w2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].SourceMessageID != "msg-2" {
		t.Errorf("second worker should only see the unclaimed entry, got %d", len(second))
	}
}

func TestClaim_ConcurrentWorkersAreDisjoint(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()

	const total = 24
	base := time.Now().Add(-time.Hour)
	for i := 0; i < total; i++ {
		_, err := svc.Enqueue(ctx, fmt.Sprintf("msg-%d", i), "trk-1", TypeFilePackage, []byte(`{}`), base.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatal(err)
		}
	}

	const workers = 8
	claimedBy := make([][]Entry, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := svc.Claim(ctx, fmt.Sprintf("w%d", w), 3)
				if err != nil {
					t.Errorf("w%d claim: %v", w, err)
					return
				}
				if len(batch) == 0 {
					return
				}
				claimedBy[w] = append(claimedBy[w], batch...)
			}
		}()
	}
	wg.Wait()

	owners := make(map[uuid.UUID]int)
	n := 0
	for w, batch := range claimedBy {
		for _, e := range batch {
			if prev, dup := owners[e.ID]; dup {
				t.Errorf("entry %s claimed by both w%d and w%d", e.ID, prev, w)
			}
			owners[e.ID] = w
			n++
		}
	}
	if n != total {
		t.Errorf("claimed %d entries across workers, want %d", n, total)
	}
}

func TestFail_RetryThenDead(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "msg-1", "trk-1", TypeFilePackage, []byte(`{}`), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	var entry Entry
	for attempt := 1; attempt <= 5; attempt++ {
		if attempt > 1 {
			repo.ForceDue(entry.ID)
		}
		claimed, err := svc.Claim(ctx, "w1", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: claimed %d entries", attempt, len(claimed))
		}
		entry = claimed[0]
		if entry.Attempt != attempt {
			t.Fatalf("attempt = %d, want %d", entry.Attempt, attempt)
		}

		if err := svc.Fail(ctx, &entry, errors.New("downstream timeout")); err != nil {
			t.Fatal(err)
		}

		stored, _ := repo.GetByID(ctx, entry.ID)
		if attempt < 5 {
			if stored.Status != StatusFailed {
				t.Fatalf("attempt %d: status %s, want FAILED", attempt, stored.Status)
			}
			wantDelay := Backoff(attempt)
			gotDelay := time.Until(stored.NextAttemptAt)
			if gotDelay < wantDelay-5*time.Second || gotDelay > wantDelay+5*time.Second {
				t.Errorf("attempt %d: retry delay %v, want about %v", attempt, gotDelay, wantDelay)
			}
		} else {
			if stored.Status != StatusDead {
				t.Fatalf("attempt 5: status %s, want DEAD", stored.Status)
			}
		}
	}
}

func TestFail_PermanentFastFails(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "msg-1", "trk-1", TypeEsmdAck, []byte(`{}`), time.Now())
	claimed, _ := svc.Claim(ctx, "w1", 1)
	e := claimed[0]

	err := svc.Fail(ctx, &e, fmt.Errorf("%w: malformed tracking id", ErrPermanent))
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.GetByID(ctx, e.ID)
	if stored.Status != StatusDead {
		t.Errorf("permanent failure with fail-fast: status %s, want DEAD", stored.Status)
	}
	if n, _ := svc.DeadCount(ctx); n != 1 {
		t.Errorf("dead count = %d, want 1", n)
	}
}

func TestFail_PermanentWithoutFastFailRetries(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, false)
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "msg-1", "trk-1", TypeEsmdAck, []byte(`{}`), time.Now())
	claimed, _ := svc.Claim(ctx, "w1", 1)
	e := claimed[0]

	if err := svc.Fail(ctx, &e, fmt.Errorf("%w: malformed", ErrPermanent)); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.GetByID(ctx, e.ID)
	if stored.Status != StatusFailed {
		t.Errorf("fail-fast off: status %s, want FAILED", stored.Status)
	}
}

func TestReclaimStale(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "msg-1", "trk-1", TypeFilePackage, []byte(`{}`), time.Now())
	claimed, _ := svc.Claim(ctx, "w1", 1)
	id := claimed[0].ID

	repo.AgeLock(id, 10*time.Minute)

	n, err := svc.ReclaimStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d, want 1", n)
	}
	stored, _ := repo.GetByID(ctx, id)
	if stored.Status != StatusNew {
		t.Errorf("status %s after reclaim, want NEW", stored.Status)
	}
	if stored.Attempt != 1 {
		t.Errorf("attempt %d after reclaim, want 1 (preserved)", stored.Attempt)
	}
}

func TestReclaimStale_FreshLockKept(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 5, true)
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "msg-1", "trk-1", TypeFilePackage, []byte(`{}`), time.Now())
	claimed, _ := svc.Claim(ctx, "w1", 1)

	n, err := svc.ReclaimStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("reclaimed %d fresh locks, want 0", n)
	}
	stored, _ := repo.GetByID(ctx, claimed[0].ID)
	if stored.Status != StatusProcessing {
		t.Errorf("status %s, want PROCESSING", stored.Status)
	}
}

func TestRequeue_DeadOnly(t *testing.T) {
	repo := NewMemRepo()
	svc := testService(repo, 1, true)
	ctx := context.Background()

	_, _ = svc.Enqueue(ctx, "msg-1", "trk-1", TypeFilePackage, []byte(`{}`), time.Now())
	claimed, _ := svc.Claim(ctx, "w1", 1)
	e := claimed[0]
	_ = svc.Fail(ctx, &e, errors.New("boom"))

	stored, _ := repo.GetByID(ctx, e.ID)
	if stored.Status != StatusDead {
		t.Fatalf("setup: status %s, want DEAD", stored.Status)
	}

	if err := svc.Requeue(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	stored, _ = repo.GetByID(ctx, e.ID)
	if stored.Status != StatusNew || stored.Attempt != 0 {
		t.Errorf("requeue: status=%s attempt=%d, want NEW/0", stored.Status, stored.Attempt)
	}

	// A live entry cannot be requeued.
	if err := svc.Requeue(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("requeue of non-dead entry: err=%v, want ErrNotFound", err)
	}
}

func TestDecodePayload_UnknownTypeIsPermanent(t *testing.T) {
	e := &Entry{MessageType: "bogus", Payload: []byte(`{}`)}
	_, err := DecodePayload(e)
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("unknown type: err=%v, want ErrPermanent", err)
	}
}

func TestDecodePayload_Variants(t *testing.T) {
	e := &Entry{MessageType: TypeEsmdAck, Payload: []byte(`{"tracking_id":"t-1","utn":"UTN123"}`)}
	v, err := DecodePayload(e)
	if err != nil {
		t.Fatal(err)
	}
	ack, ok := v.(*EsmdAckPayload)
	if !ok || ack.UTN != "UTN123" {
		t.Errorf("decoded %#v, want ack with UTN123", v)
	}

	bad := &Entry{MessageType: TypeFilePackage, Payload: []byte(`not json`)}
	if _, err := DecodePayload(bad); !errors.Is(err, ErrPermanent) {
		t.Errorf("malformed payload: err=%v, want ErrPermanent", err)
	}
}
