package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/inbox"
	"github.com/pabridge/pabridge/internal/domain/watermark"
)

type leaderCheck interface {
	IsLeader() bool
}

// Poller tails the source table. Each cycle reads the cursor, fetches the
// next batch, enqueues every row, and advances the cursor past what was
// durably enqueued. Crashing between enqueue and advance replays rows; the
// inbox dedup absorbs the replay.
type Poller struct {
	source    SourceReader
	inbox     *inbox.Service
	cursors   watermark.Repository
	elector   leaderCheck
	sourceID  string
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
}

func New(source SourceReader, inboxSvc *inbox.Service, cursors watermark.Repository, elector leaderCheck, sourceID string, interval time.Duration, batchSize int, logger zerolog.Logger) *Poller {
	return &Poller{
		source:    source,
		inbox:     inboxSvc,
		cursors:   cursors,
		elector:   elector,
		sourceID:  sourceID,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "poller").Str("source", sourceID).Logger(),
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.elector.IsLeader() {
				continue
			}
			p.drain(ctx)
		}
	}
}

// drain keeps pulling full batches until the source is caught up or an error
// stops the cycle.
func (p *Poller) drain(ctx context.Context) {
	for {
		n, err := p.pollOnce(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("poll cycle failed")
			return
		}
		if n < p.batchSize {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pollOnce returns the number of source rows seen. A cursor read failure
// halts the cycle entirely: polling from an unknown position risks skipping
// rows forever.
func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	cur, err := p.cursors.Read(ctx, p.sourceID)
	if err != nil {
		return 0, err
	}

	rows, err := p.source.FetchAfter(ctx, cur.LastSeenTimestamp, cur.LastSeenID, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	enqueued := 0
	var lastTS time.Time
	var lastID int64
	for i := range rows {
		row := &rows[i]
		if _, err := p.inbox.Enqueue(ctx, row.MessageID, row.CorrelationKey, row.MessageType, row.Payload, row.CreatedAt); err != nil {
			// Advance only past what made it in; the rest is re-read next
			// cycle.
			p.logger.Error().Err(err).Str("message_id", row.MessageID).Msg("enqueue failed, stopping batch")
			break
		}
		lastTS, lastID = row.CreatedAt, row.ID
		enqueued++
	}

	if enqueued > 0 {
		if err := p.cursors.Advance(ctx, p.sourceID, lastTS, lastID); err != nil {
			return enqueued, err
		}
		p.logger.Debug().Int("rows", enqueued).Int64("last_id", lastID).Msg("cursor advanced")
	}
	return len(rows), nil
}
