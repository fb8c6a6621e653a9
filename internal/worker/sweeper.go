package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/domain/inbox"
)

type leaderCheck interface {
	IsLeader() bool
}

// Sweeper returns entries stuck in PROCESSING to the queue after their
// worker's lock goes stale. Leader-gated so the fleet runs one sweep.
type Sweeper struct {
	inbox       *inbox.Service
	elector     leaderCheck
	interval    time.Duration
	lockTimeout time.Duration
	logger      zerolog.Logger
}

func NewSweeper(inboxSvc *inbox.Service, elector leaderCheck, interval, lockTimeout time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		inbox:       inboxSvc,
		elector:     elector,
		interval:    interval,
		lockTimeout: lockTimeout,
		logger:      logger.With().Str("component", "sweeper").Logger(),
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.elector.IsLeader() {
				continue
			}
			if _, err := s.inbox.ReclaimStale(ctx, s.lockTimeout); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
