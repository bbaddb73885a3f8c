package application

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const sweepBatch = 100

// Sweeper closes auctions whose effective end has passed. Each close goes
// through the engine and its per-auction lock, so a bid racing the deadline is
// either committed before the close or rejected after it.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sweeper{engine: engine, interval: interval}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Info("Expiry sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep closes every due auction and returns how many it closed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ids, err := s.engine.store.ListDue(ctx, s.engine.now(), sweepBatch)
	if err != nil {
		log.Error("Sweeper: Failed to list due auctions", zap.Error(err))
		return 0
	}

	closed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.engine.ExpireAuction(ctx, id)
		if err != nil {
			log.Error("Sweeper: Failed to close auction", zap.Int64("auctionID", id), zap.Error(err))
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		log.Info("Sweeper closed expired auctions", zap.Int("closed", closed))
	}
	return closed
}
