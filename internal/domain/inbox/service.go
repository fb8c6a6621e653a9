package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/platform/telemetry"
)

// Service owns the retry policy. Repositories persist transitions; the
// service decides which transition a failure earns.
type Service struct {
	repo        Repository
	logger      zerolog.Logger
	maxAttempts int
	failFast    bool
}

func NewService(repo Repository, logger zerolog.Logger, maxAttempts int, failFast bool) *Service {
	return &Service{
		repo:        repo,
		logger:      logger.With().Str("component", "inbox").Logger(),
		maxAttempts: maxAttempts,
		failFast:    failFast,
	}
}

// Enqueue adds a message to the inbox. Duplicate source message ids are
// dropped silently; the bool reports whether a row was inserted. The
// correlation key ties the entry back to its decision for operators.
func (s *Service) Enqueue(ctx context.Context, sourceMessageID, correlationKey, messageType string, payload []byte, sourceCreatedAt time.Time) (bool, error) {
	if sourceMessageID == "" {
		return false, errors.New("source message id required")
	}
	e := &Entry{
		SourceMessageID: sourceMessageID,
		CorrelationKey:  correlationKey,
		MessageType:     messageType,
		Payload:         payload,
		SourceCreatedAt: sourceCreatedAt,
	}
	inserted, err := s.repo.Enqueue(ctx, e)
	if err != nil {
		return false, err
	}
	if inserted {
		telemetry.InboxEnqueued.Inc()
	} else {
		s.logger.Debug().Str("source_message_id", sourceMessageID).Msg("duplicate message dropped")
	}
	return inserted, nil
}

// Claim hands a batch of due entries to a worker.
func (s *Service) Claim(ctx context.Context, workerID string, limit int) ([]Entry, error) {
	entries, err := s.repo.Claim(ctx, workerID, limit)
	if err != nil {
		return nil, err
	}
	if n := len(entries); n > 0 {
		telemetry.InboxClaimed.Add(float64(n))
	}
	return entries, nil
}

// Complete finishes an entry after successful processing.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkDone(ctx, id); err != nil {
		return err
	}
	telemetry.InboxCompleted.Inc()
	return nil
}

// Fail applies the retry policy to a processing failure. The entry goes DEAD
// when its attempt budget is spent, or immediately when the error is
// permanent and fail-fast is on; otherwise it is rescheduled on the backoff
// ladder.
func (s *Service) Fail(ctx context.Context, e *Entry, procErr error) error {
	msg := procErr.Error()
	permanent := errors.Is(procErr, ErrPermanent)

	if e.Attempt >= s.maxAttempts || (permanent && s.failFast) {
		s.logger.Error().
			Str("entry_id", e.ID.String()).
			Str("message_type", e.MessageType).
			Int("attempt", e.Attempt).
			Bool("permanent", permanent).
			Err(procErr).
			Msg("entry dead")
		if err := s.repo.MarkDead(ctx, e.ID, msg); err != nil {
			return fmt.Errorf("mark dead: %w", err)
		}
		telemetry.InboxDead.Inc()
		return nil
	}

	next := time.Now().Add(Backoff(e.Attempt))
	s.logger.Warn().
		Str("entry_id", e.ID.String()).
		Str("message_type", e.MessageType).
		Int("attempt", e.Attempt).
		Time("next_attempt_at", next).
		Err(procErr).
		Msg("entry failed, will retry")
	if err := s.repo.MarkFailed(ctx, e.ID, msg, next); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	telemetry.InboxFailed.Inc()
	return nil
}

// ReclaimStale rescues entries whose worker died mid-processing.
func (s *Service) ReclaimStale(ctx context.Context, lockTimeout time.Duration) (int64, error) {
	n, err := s.repo.ReclaimStale(ctx, lockTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.InboxReclaimed.Add(float64(n))
		s.logger.Warn().Int64("count", n).Msg("reclaimed stale entries")
	}
	return n, nil
}

func (s *Service) ListDead(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListDead(ctx, limit)
}

// DeadCount reports the dead-letter backlog for the health endpoint.
func (s *Service) DeadCount(ctx context.Context) (int64, error) {
	return s.repo.CountDead(ctx)
}

// Requeue gives a DEAD entry a fresh attempt budget. Operator action only.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Requeue(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("entry_id", id.String()).Msg("dead entry requeued")
	return nil
}
