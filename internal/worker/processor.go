// Package worker processes claimed inbox entries and drives submissions to
// the gateway.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/decision"
	"github.com/pabridge/pabridge/internal/domain/inbox"
	"github.com/pabridge/pabridge/internal/domain/outbox"
	"github.com/pabridge/pabridge/internal/esmd"
)

// ProcessorFunc handles one inbox entry. A returned error wrapping
// inbox.ErrPermanent is not retried.
type ProcessorFunc func(ctx context.Context, e *inbox.Entry) error

// Registry dispatches entries by message type.
type Registry struct {
	procs map[string]ProcessorFunc
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]ProcessorFunc)}
}

func (r *Registry) Register(messageType string, fn ProcessorFunc) {
	r.procs[messageType] = fn
}

func (r *Registry) Lookup(messageType string) (ProcessorFunc, bool) {
	fn, ok := r.procs[messageType]
	return fn, ok
}

// Pipeline wires the domain services into processors for every message type
// and implements the operator resend path.
type Pipeline struct {
	decisions *decision.Service
	chain     *outbox.Service
	gateway   esmd.Gateway
	logger    zerolog.Logger
}

func NewPipeline(decisions *decision.Service, chain *outbox.Service, gateway esmd.Gateway, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		decisions: decisions,
		chain:     chain,
		gateway:   gateway,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
}

// BuildRegistry registers a processor per message type.
func (p *Pipeline) BuildRegistry() *Registry {
	r := NewRegistry()
	r.Register(inbox.TypeFilePackage, p.handleFilePackage)
	r.Register(inbox.TypeEsmdAck, p.handleEsmdAck)
	r.Register(inbox.TypeEsmdUTNFail, p.handleEsmdUTNFail)
	r.Register(inbox.TypeLetterStatus, p.handleLetterStatus)
	return r
}

// handleFilePackage records the decision, appends it to the outbox chain,
// and pushes it to the gateway. Every step is idempotent so a retry after a
// partial failure resumes where the last attempt stopped.
func (p *Pipeline) handleFilePackage(ctx context.Context, e *inbox.Entry) error {
	v, err := inbox.DecodePayload(e)
	if err != nil {
		return err
	}
	pkg := v.(*inbox.FilePackagePayload)

	rec, err := p.decisions.Ingest(ctx, decision.IngestInput{
		TrackingID: pkg.TrackingID,
		CaseID:     pkg.CaseID,
		Outcome:    decision.Outcome(pkg.Outcome),
		Document:   pkg.Document,
		DecidedAt:  pkg.DecidedAt,
	})
	if err != nil {
		return classify(err)
	}

	// Already on the wire for this content; nothing left to do.
	if rec.EsmdStatus != decision.EsmdNotSent {
		return nil
	}

	entry, _, err := p.chain.Record(ctx, rec.TrackingID, rec.ID, rec.Document, false)
	if err != nil {
		return err
	}
	return p.submit(ctx, rec, entry, false)
}

// Resend pushes the latest chain payload back out for a decision flagged
// RESEND_REQUIRED. Implements decision.Resender for the ops API.
func (p *Pipeline) Resend(ctx context.Context, rec *decision.Record) error {
	latest, err := p.chain.Latest(ctx, rec.TrackingID)
	if err != nil {
		return err
	}
	entry, _, err := p.chain.Record(ctx, rec.TrackingID, rec.ID, latest.Payload, true)
	if err != nil {
		return err
	}
	return p.submit(ctx, rec, entry, true)
}

func (p *Pipeline) submit(ctx context.Context, rec *decision.Record, entry *outbox.Entry, resend bool) error {
	_, err := p.gateway.Submit(ctx, &esmd.SubmitRequest{
		TrackingID:     rec.TrackingID,
		CorrelationID:  entry.CorrelationID.String(),
		PayloadVersion: entry.PayloadVersion,
		Payload:        json.RawMessage(entry.Payload),
		Resend:         resend,
	})
	if err != nil {
		var se *esmd.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			// The gateway rejected the content; record it and stop retrying.
			if ferr := p.decisions.RecordSubmissionFailure(ctx, rec.TrackingID, se.Error()); ferr != nil {
				p.logger.Error().Err(ferr).Str("tracking_id", rec.TrackingID).Msg("record submission failure")
			}
			return fmt.Errorf("%w: %v", inbox.ErrPermanent, err)
		}
		return err
	}
	if err := p.decisions.MarkSent(ctx, rec.ID); err != nil {
		return classify(err)
	}
	p.logger.Info().Str("tracking_id", rec.TrackingID).Int("payload_version", entry.PayloadVersion).Bool("resend", resend).Msg("submitted to gateway")
	return nil
}

func (p *Pipeline) handleEsmdAck(ctx context.Context, e *inbox.Entry) error {
	v, err := inbox.DecodePayload(e)
	if err != nil {
		return err
	}
	ack := v.(*inbox.EsmdAckPayload)
	trackingID, err := p.resolveTracking(ctx, ack.TrackingID, ack.CorrelationID)
	if err != nil {
		return err
	}
	return classify(p.decisions.RecordAck(ctx, trackingID, ack.UTN))
}

func (p *Pipeline) handleEsmdUTNFail(ctx context.Context, e *inbox.Entry) error {
	v, err := inbox.DecodePayload(e)
	if err != nil {
		return err
	}
	fail := v.(*inbox.EsmdUTNFailPayload)
	trackingID, err := p.resolveTracking(ctx, fail.TrackingID, fail.CorrelationID)
	if err != nil {
		return err
	}
	return classify(p.decisions.RecordUTNFailure(ctx, trackingID, json.RawMessage(e.Payload), fail.Remediation))
}

func (p *Pipeline) handleLetterStatus(ctx context.Context, e *inbox.Entry) error {
	v, err := inbox.DecodePayload(e)
	if err != nil {
		return err
	}
	ls := v.(*inbox.LetterStatusPayload)
	return classify(p.decisions.ApplyLetterStatus(ctx, ls.TrackingID, decision.LetterStatus(ls.Status), ls.Package))
}

// resolveTracking maps gateway feedback to its decision. The correlation id
// of the original send takes precedence; a bare tracking id is accepted from
// feeds that do not echo correlation ids. A correlation id we have no record
// of stays retryable, because the feedback may have outrun the send's commit.
func (p *Pipeline) resolveTracking(ctx context.Context, trackingID, correlationID string) (string, error) {
	if correlationID == "" {
		if trackingID == "" {
			return "", fmt.Errorf("%w: feedback carries neither correlation id nor tracking id", inbox.ErrPermanent)
		}
		return trackingID, nil
	}
	cid, err := uuid.Parse(correlationID)
	if err != nil {
		return "", fmt.Errorf("%w: malformed correlation id %q", inbox.ErrPermanent, correlationID)
	}
	entry, err := p.chain.ResolveCorrelation(ctx, cid)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) && trackingID != "" {
			return trackingID, nil
		}
		return "", err
	}
	return entry.TrackingID, nil
}

// classify maps domain errors onto the retry policy. State-machine
// violations and validation errors cannot heal with time; a missing decision
// can, because the message may simply have arrived ahead of its file
// package.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ite *decision.InvalidTransitionError
	if errors.As(err, &ite) {
		return fmt.Errorf("%w: %v", inbox.ErrPermanent, err)
	}
	if errors.Is(err, decision.ErrNotFound) {
		return err
	}
	if errors.Is(err, decision.ErrActiveExists) || errors.Is(err, decision.ErrInvalidInput) {
		return fmt.Errorf("%w: %v", inbox.ErrPermanent, err)
	}
	return err
}
