package application

import (
	"context"
	"fmt"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"go.uber.org/zap"
)

// ResumeResult is what a reconnecting subscriber needs to catch up: the current
// snapshot and the ledger events it missed. Truncated means the gap was longer
// than the replay bound and Events is empty; the snapshot is authoritative.
type ResumeResult struct {
	Snapshot  domain.StateSnapshot
	Events    []domain.StoredEvent
	Truncated bool
}

// Subscribe calls fn with the auction snapshot while holding the auction lock.
// Anything fn registers receives every event committed after the snapshot and
// none committed before it.
func (e *Engine) Subscribe(ctx context.Context, auctionID int64, fn func(domain.StateSnapshot)) error {
	err := e.withAuction(ctx, auctionID, func(a *domain.Auction) error {
		fn(a.Snapshot())
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe to auction %d: %w", auctionID, err)
	}
	return nil
}

// GetAuctionState returns the current subscriber view of the auction.
func (e *Engine) GetAuctionState(ctx context.Context, auctionID int64) (domain.StateSnapshot, error) {
	var s domain.StateSnapshot
	err := e.Subscribe(ctx, auctionID, func(snap domain.StateSnapshot) { s = snap })
	return s, err
}

// Resume calls fn with the ledger events after afterID, under the auction lock so
// nothing is committed between the replay and whatever fn does next.
func (e *Engine) Resume(ctx context.Context, auctionID, afterID int64, fn func(ResumeResult)) error {
	if afterID < 0 {
		return fmt.Errorf("%w: last_event_id must not be negative", domain.ErrInvalidQuery)
	}
	err := e.withAuction(ctx, auctionID, func(a *domain.Auction) error {
		res := ResumeResult{Snapshot: a.Snapshot()}
		if afterID >= a.LastEventID {
			fn(res)
			return nil
		}
		events, err := e.store.ListEventsAfter(ctx, auctionID, afterID, e.opts.ResumeMaxRows+1)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}
		if len(events) > e.opts.ResumeMaxRows {
			log.Info("Resume gap exceeds replay bound, sending snapshot only",
				zap.Int64("auctionID", auctionID),
				zap.Int64("afterID", afterID),
				zap.Int64("lastEventID", a.LastEventID),
			)
			res.Truncated = true
		} else {
			res.Events = events
		}
		fn(res)
		return nil
	})
	if err != nil {
		return fmt.Errorf("resume auction %d: %w", auctionID, err)
	}
	return nil
}
