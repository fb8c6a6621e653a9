package letter

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/decision"
)

// leaderCheck gates the loop so only one instance drives correspondence.
type leaderCheck interface {
	IsLeader() bool
}

// Loop periodically pushes pending letters to the render service and
// delivers the ready ones. Render completion flows back asynchronously as
// letter_status messages; delivery is confirmed inline.
type Loop struct {
	decisions *decision.Service
	renderer  Renderer
	deliverer Deliverer
	elector   leaderCheck
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
}

func NewLoop(decisions *decision.Service, renderer Renderer, deliverer Deliverer, elector leaderCheck, interval time.Duration, batchSize int, logger zerolog.Logger) *Loop {
	return &Loop{
		decisions: decisions,
		renderer:  renderer,
		deliverer: deliverer,
		elector:   elector,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "letter").Logger(),
	}
}

func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.elector.IsLeader() {
				continue
			}
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.requestRenders(ctx)
	l.deliverReady(ctx)
}

// requestRenders re-asks for every pending letter each cycle. The render
// service treats repeat requests for the same tracking id as idempotent.
func (l *Loop) requestRenders(ctx context.Context) {
	recs, err := l.decisions.ListByLetterStatus(ctx, decision.LetterPending, l.batchSize)
	if err != nil {
		l.logger.Error().Err(err).Msg("list pending letters")
		return
	}
	for i := range recs {
		rec := &recs[i]
		req := &RenderRequest{
			TrackingID: rec.TrackingID,
			CaseID:     rec.CaseID,
			Outcome:    string(rec.Outcome),
			Document:   rec.Document,
		}
		if err := l.renderer.RequestRender(ctx, req); err != nil {
			l.logger.Warn().Err(err).Str("tracking_id", rec.TrackingID).Msg("render request failed")
		}
	}
}

func (l *Loop) deliverReady(ctx context.Context) {
	recs, err := l.decisions.ListByLetterStatus(ctx, decision.LetterReady, l.batchSize)
	if err != nil {
		l.logger.Error().Err(err).Msg("list ready letters")
		return
	}
	for i := range recs {
		rec := &recs[i]
		req := &DeliverRequest{TrackingID: rec.TrackingID, CaseID: rec.CaseID, Package: rec.LetterPackage}
		if err := l.deliverer.Deliver(ctx, req); err != nil {
			l.logger.Warn().Err(err).Str("tracking_id", rec.TrackingID).Msg("letter delivery failed")
			continue
		}
		if err := l.decisions.ApplyLetterStatus(ctx, rec.TrackingID, decision.LetterSent, nil); err != nil {
			l.logger.Error().Err(err).Str("tracking_id", rec.TrackingID).Msg("mark letter sent")
			continue
		}
		l.logger.Info().Str("tracking_id", rec.TrackingID).Msg("letter delivered")
	}
}
