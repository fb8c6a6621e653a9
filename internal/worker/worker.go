package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/inbox"
)

// Pool runs N claim loops against the inbox. Workers are stateless; any
// instance's pool can process any entry, and SKIP LOCKED claiming keeps them
// from colliding.
type Pool struct {
	inbox     *inbox.Service
	registry  *Registry
	workerID  string
	size      int
	batchSize int
	interval  time.Duration
	logger    zerolog.Logger
}

func NewPool(inboxSvc *inbox.Service, registry *Registry, workerID string, size, batchSize int, interval time.Duration, logger zerolog.Logger) *Pool {
	return &Pool{
		inbox:     inboxSvc,
		registry:  registry,
		workerID:  workerID,
		size:      size,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With().Str("component", "worker").Logger(),
	}
}

func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, fmt.Sprintf("%s-%d", p.workerID, n))
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	logger := p.logger.With().Str("worker", workerID).Logger()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for p.runBatch(ctx, workerID, logger) {
				// Keep draining while full batches come back.
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// runBatch claims and processes one batch. Returns true when the batch was
// full, meaning more work is likely waiting.
func (p *Pool) runBatch(ctx context.Context, workerID string, logger zerolog.Logger) bool {
	entries, err := p.inbox.Claim(ctx, workerID, p.batchSize)
	if err != nil {
		logger.Error().Err(err).Msg("claim failed")
		return false
	}
	for i := range entries {
		p.processOne(ctx, &entries[i], logger)
	}
	return len(entries) == p.batchSize
}

func (p *Pool) processOne(ctx context.Context, e *inbox.Entry, logger zerolog.Logger) {
	proc, ok := p.registry.Lookup(e.MessageType)
	if !ok {
		err := fmt.Errorf("%w: no processor for message type %q", inbox.ErrPermanent, e.MessageType)
		if ferr := p.inbox.Fail(ctx, e, err); ferr != nil {
			logger.Error().Err(ferr).Str("entry_id", e.ID.String()).Msg("record failure")
		}
		return
	}

	if err := proc(ctx, e); err != nil {
		if ferr := p.inbox.Fail(ctx, e, err); ferr != nil {
			logger.Error().Err(ferr).Str("entry_id", e.ID.String()).Msg("record failure")
		}
		return
	}
	if err := p.inbox.Complete(ctx, e.ID); err != nil {
		logger.Error().Err(err).Str("entry_id", e.ID.String()).Msg("mark done")
	}
}
