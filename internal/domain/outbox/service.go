package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/platform/telemetry"
)

// Service enforces the chain rules: first send starts a chain at version 1,
// a resend appends a link, and the version bumps only when the payload
// content actually changed.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "outbox").Logger()}
}

// Record appends the submission to the chain for trackingID and returns the
// entry to put on the wire. An unchanged payload that is not an explicit
// resend is deduplicated: the existing entry comes back with appended=false
// and nothing is written.
func (s *Service) Record(ctx context.Context, trackingID string, decisionID uuid.UUID, payload []byte, explicitResend bool) (*Entry, bool, error) {
	hash := HashPayload(payload)

	latest, err := s.repo.GetLatestByTrackingID(ctx, trackingID)
	switch {
	case errors.Is(err, ErrNotFound):
		e := &Entry{
			TrackingID:     trackingID,
			DecisionID:     decisionID,
			CorrelationID:  uuid.New(),
			Payload:        payload,
			PayloadHash:    hash,
			PayloadVersion: 1,
			AttemptCount:   1,
			Status:         StatusSent,
		}
		if err := s.repo.Append(ctx, e); err != nil {
			return nil, false, err
		}
		telemetry.OutboxSends.Inc()
		return e, true, nil
	case err != nil:
		return nil, false, err
	}

	if !explicitResend && latest.PayloadHash == hash {
		telemetry.OutboxDeduped.Inc()
		s.logger.Debug().Str("tracking_id", trackingID).Msg("unchanged payload deduplicated")
		return latest, false, nil
	}

	version := latest.PayloadVersion
	if latest.PayloadHash != hash {
		version++
	}
	status := StatusSent
	if explicitResend {
		status = StatusResend
	}
	e := &Entry{
		TrackingID:     trackingID,
		DecisionID:     decisionID,
		CorrelationID:  uuid.New(),
		Payload:        payload,
		PayloadHash:    hash,
		PayloadVersion: version,
		AttemptCount:   latest.AttemptCount + 1,
		Status:         status,
		ResendOfID:     &latest.ID,
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return nil, false, err
	}
	telemetry.OutboxResends.Inc()
	s.logger.Info().
		Str("tracking_id", trackingID).
		Int("payload_version", version).
		Str("resend_of", latest.ID.String()).
		Msg("resend appended to chain")
	return e, true, nil
}

// Chain returns the full audit trail for a tracking id, oldest first.
func (s *Service) Chain(ctx context.Context, trackingID string) ([]Entry, error) {
	return s.repo.GetChain(ctx, trackingID)
}

// Latest returns the newest entry for a tracking id.
func (s *Service) Latest(ctx context.Context, trackingID string) (*Entry, error) {
	return s.repo.GetLatestByTrackingID(ctx, trackingID)
}

// ResolveCorrelation maps a gateway correlation id back to the send it
// belongs to.
func (s *Service) ResolveCorrelation(ctx context.Context, correlationID uuid.UUID) (*Entry, error) {
	return s.repo.GetByCorrelationID(ctx, correlationID)
}
