package leader

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/platform/telemetry"
)

// Elector keeps trying to hold the lease for one task, heartbeating while it
// leads. Leadership is advisory between heartbeats: holders must tolerate a
// brief overlap where a successor has taken a stale lease.
type Elector struct {
	repo     Repository
	taskName string
	holderID string
	interval time.Duration
	logger   zerolog.Logger

	leading atomic.Bool
}

func NewElector(repo Repository, taskName, holderID string, interval time.Duration, logger zerolog.Logger) *Elector {
	return &Elector{
		repo:     repo,
		taskName: taskName,
		holderID: holderID,
		interval: interval,
		logger:   logger.With().Str("task", taskName).Str("holder", holderID).Logger(),
	}
}

// IsLeader reports the result of the most recent acquire or heartbeat.
func (e *Elector) IsLeader() bool {
	return e.leading.Load()
}

// Run loops until ctx is done, acquiring or heartbeating once per interval.
// The interval is jittered so restarts of the whole fleet don't contend on
// the same tick.
func (e *Elector) Run(ctx context.Context) {
	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-time.After(jitter(e.interval)):
			e.tick(ctx)
		}
	}
}

func (e *Elector) tick(ctx context.Context) {
	var (
		ok  bool
		err error
	)
	if e.leading.Load() {
		ok, err = e.repo.Heartbeat(ctx, e.taskName, e.holderID)
	} else {
		ok, err = e.repo.TryAcquire(ctx, e.taskName, e.holderID)
	}
	if err != nil {
		// Treat errors as loss of leadership; a split brain is worse than a
		// missed cycle.
		e.logger.Error().Err(err).Msg("lease tick failed, dropping leadership")
		e.setLeading(false)
		return
	}
	was := e.leading.Load()
	e.setLeading(ok)
	switch {
	case ok && !was:
		e.logger.Info().Msg("acquired lease")
	case !ok && was:
		e.logger.Warn().Msg("lost lease")
	}
}

func (e *Elector) setLeading(v bool) {
	e.leading.Store(v)
	g := 0.0
	if v {
		g = 1.0
	}
	telemetry.LeaderGauge.WithLabelValues(e.taskName).Set(g)
}

func (e *Elector) shutdown() {
	if !e.leading.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.repo.Release(ctx, e.taskName, e.holderID); err != nil {
		e.logger.Warn().Err(err).Msg("lease release on shutdown failed")
	}
	e.setLeading(false)
}

// jitter returns d scaled by a random factor in [0.75, 1.25).
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}
