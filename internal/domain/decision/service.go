package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/platform/telemetry"
)

// Service enforces the decision state machines. All writes validate the
// transition against the current record before persisting; violations come
// back as *InvalidTransitionError so callers can treat them as unretryable.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "decision").Logger()}
}

// IngestInput is the decision content extracted from an intake file package.
type IngestInput struct {
	TrackingID string
	CaseID     string
	Outcome    Outcome
	Document   json.RawMessage
	DecidedAt  time.Time
}

func (in IngestInput) validate() error {
	if in.TrackingID == "" {
		return fmt.Errorf("%w: tracking id required", ErrInvalidInput)
	}
	if in.CaseID == "" {
		return fmt.Errorf("%w: case id required", ErrInvalidInput)
	}
	if !in.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, in.Outcome)
	}
	return nil
}

// Ingest records a decision from intake. A first decision for the tracking id
// is created fresh; a repeat decision supersedes the current active record,
// which keeps its final state for audit. Returns the active record to submit.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*Record, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	rec := &Record{
		TrackingID:   in.TrackingID,
		CaseID:       in.CaseID,
		Outcome:      in.Outcome,
		Document:     in.Document,
		EsmdStatus:   EsmdNotSent,
		UTNStatus:    UTNNone,
		LetterStatus: LetterNone,
		Active:       true,
		DecidedAt:    in.DecidedAt,
	}

	prior, err := s.repo.GetActiveByTrackingID(ctx, in.TrackingID)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := s.repo.Create(ctx, rec); err != nil {
			return nil, err
		}
		s.logger.Info().Str("tracking_id", in.TrackingID).Str("outcome", string(in.Outcome)).Msg("decision recorded")
		return rec, nil
	case err != nil:
		return nil, err
	}

	// Replays of the same decision content are idempotent. Only changed
	// content supersedes.
	if prior.Outcome == in.Outcome && bytes.Equal(prior.Document, in.Document) {
		return prior, nil
	}

	if err := s.repo.Supersede(ctx, prior.ID, rec); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("tracking_id", in.TrackingID).
		Str("superseded", prior.ID.String()).
		Str("outcome", string(in.Outcome)).
		Msg("decision superseded")
	return rec, nil
}

// MarkSent records that the submission left for the gateway: the attempt
// counter bumps, the send timestamp moves, and a pending fix flag clears
// because the corrected payload is now on the wire.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := checkEsmd(rec.EsmdStatus, EsmdSent); err != nil {
		return err
	}
	now := time.Now()
	rec.EsmdStatus = EsmdSent
	rec.EsmdAttemptCount++
	rec.EsmdLastSentAt = &now
	rec.EsmdLastError = nil
	rec.RequiresUTNFix = false
	return s.repo.Update(ctx, rec)
}

// RecordAck applies a gateway acknowledgment to the active decision. A UTN in
// the ack resolves the tracking number; an affirm or non-affirm outcome then
// queues the beneficiary letter.
func (s *Service) RecordAck(ctx context.Context, trackingID, utn string) error {
	rec, err := s.repo.GetActiveByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	// The inbox redelivers feedback after a crash or a sweeper reclaim; an
	// ack that already landed must succeed as a no-op.
	if rec.EsmdStatus == EsmdAcked && (utn == "" || (rec.UTN != nil && *rec.UTN == utn)) {
		return nil
	}
	if err := checkEsmd(rec.EsmdStatus, EsmdAcked); err != nil {
		return err
	}

	rec.EsmdStatus = EsmdAcked
	if utn != "" {
		if err := checkUTN(rec.UTNStatus, UTNSuccess); err != nil {
			return err
		}
		now := time.Now()
		rec.UTNStatus = UTNSuccess
		rec.UTN = &utn
		rec.UTNReceivedAt = &now
		rec.RequiresUTNFix = false
	}
	if rec.UTNStatus == UTNSuccess && rec.Outcome.RequiresLetter() && rec.LetterStatus == LetterNone {
		rec.LetterStatus = LetterPending
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		return err
	}
	if utn != "" {
		telemetry.UTNSuccess.Inc()
	}
	s.logger.Info().Str("tracking_id", trackingID).Str("utn", utn).Msg("submission acked")
	return nil
}

// RecordUTNFailure notes that the gateway accepted the submission but could
// not assign a tracking number. The failure payload and remediation message
// are kept for the operator, the record is flagged for a UTN fix, and the
// submission moves to RESEND_REQUIRED until a corrected payload goes out.
func (s *Service) RecordUTNFailure(ctx context.Context, trackingID string, failPayload json.RawMessage, remediation string) error {
	rec, err := s.repo.GetActiveByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	// Redelivery of a failure that is already flagged.
	if rec.UTNStatus == UTNFailed && rec.RequiresUTNFix {
		return nil
	}
	if err := checkEsmd(rec.EsmdStatus, EsmdResendRequired); err != nil {
		return err
	}
	if err := checkUTN(rec.UTNStatus, UTNFailed); err != nil {
		return err
	}

	rec.EsmdStatus = EsmdResendRequired
	rec.UTNStatus = UTNFailed
	rec.UTNFailPayload = failPayload
	rec.RequiresUTNFix = true
	if remediation != "" {
		rec.UTNRemediation = &remediation
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return err
	}
	telemetry.UTNFailed.Inc()
	s.logger.Warn().Str("tracking_id", trackingID).Str("remediation", remediation).Msg("utn assignment failed")
	return nil
}

// RecordSubmissionFailure marks a gateway rejection.
func (s *Service) RecordSubmissionFailure(ctx context.Context, trackingID, reason string) error {
	rec, err := s.repo.GetActiveByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	if err := checkEsmd(rec.EsmdStatus, EsmdFailed); err != nil {
		return err
	}
	rec.EsmdStatus = EsmdFailed
	rec.EsmdLastError = &reason
	if err := s.repo.Update(ctx, rec); err != nil {
		return err
	}
	s.logger.Warn().Str("tracking_id", trackingID).Str("reason", reason).Msg("submission failed")
	return nil
}

// RequestResend flags the active decision for resubmission. Operator action;
// the actual resend flows through the outbox chain.
func (s *Service) RequestResend(ctx context.Context, trackingID string) (*Record, error) {
	rec, err := s.repo.GetActiveByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	// Already flagged, e.g. by a UTN failure. The operator call is a no-op.
	if rec.EsmdStatus == EsmdResendRequired {
		return rec, nil
	}
	if err := checkEsmd(rec.EsmdStatus, EsmdResendRequired); err != nil {
		return nil, err
	}
	rec.EsmdStatus = EsmdResendRequired
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tracking_id", trackingID).Msg("resend requested")
	return rec, nil
}

// ApplyLetterStatus maps a letter callback onto the letter state machine. A
// READY callback carries the rendered package, stored for delivery.
func (s *Service) ApplyLetterStatus(ctx context.Context, trackingID string, status LetterStatus, pkg json.RawMessage) error {
	switch status {
	case LetterPending, LetterReady, LetterFailed, LetterSent:
	default:
		return fmt.Errorf("%w: unknown letter status %q", ErrInvalidInput, status)
	}
	rec, err := s.repo.GetActiveByTrackingID(ctx, trackingID)
	if err != nil {
		return err
	}
	// Redelivered status callbacks repeat the current state; apply once.
	if rec.LetterStatus == status {
		return nil
	}
	if err := checkLetter(rec.LetterStatus, status); err != nil {
		return err
	}
	rec.LetterStatus = status
	if len(pkg) > 0 {
		rec.LetterPackage = pkg
	}
	return s.repo.Update(ctx, rec)
}

// ListRequiringUTNFix exposes the operator queue of acked decisions missing a
// tracking number.
func (s *Service) ListRequiringUTNFix(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListRequiringUTNFix(ctx, limit)
}

// ListByLetterStatus feeds the letter loop.
func (s *Service) ListByLetterStatus(ctx context.Context, status LetterStatus, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByLetterStatus(ctx, status, limit)
}

// GetActive returns the current decision for a tracking id.
func (s *Service) GetActive(ctx context.Context, trackingID string) (*Record, error) {
	return s.repo.GetActiveByTrackingID(ctx, trackingID)
}
