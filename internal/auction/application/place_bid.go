package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"go.uber.org/zap"
)

// PlaceBid validates and resolves a bid. Rejections are part of the outcome, the
// error is reserved for malformed requests, idempotency conflicts and failures.
func (e *Engine) PlaceBid(ctx context.Context, auctionID int64, sub domain.BidSubmission) (domain.BidOutcome, error) {
	log.Info("Executing PlaceBid",
		zap.Int64("auctionID", auctionID),
		zap.Int64("bidderID", sub.BidderID),
		zap.Int64("amount", sub.Amount),
		zap.Int64("clientSeq", sub.ClientSeq),
	)
	if err := domain.ValidateSubmission(sub); err != nil {
		log.Warn("PlaceBid: Invalid bid request", zap.Int64("auctionID", auctionID), zap.Error(err))
		return domain.BidOutcome{}, err
	}

	var out domain.BidOutcome
	err := e.withAuction(ctx, auctionID, func(a *domain.Auction) error {
		prev, err := e.store.FindAccepted(ctx, auctionID, sub.BidderID, sub.ClientSeq)
		if err != nil {
			return fmt.Errorf("find bid for client_seq %d: %w", sub.ClientSeq, err)
		}
		if prev != nil {
			if !prev.SamePayload(sub) {
				log.Warn("PlaceBid: client_seq reused with a different payload",
					zap.Int64("auctionID", auctionID),
					zap.Int64("bidderID", sub.BidderID),
					zap.Int64("clientSeq", sub.ClientSeq),
				)
				return fmt.Errorf("%w: client_seq %d", domain.ErrIdempotencyConflict, sub.ClientSeq)
			}
			out = domain.OutcomeOf(prev, a.LastEventID)
			out.Replayed = true
			return nil
		}

		now := e.now()
		if _, err := e.closeDue(ctx, a, now); err != nil {
			return err
		}
		c, bid := domain.PlaceBid(a, sub, now)
		if err := e.apply(ctx, c); err != nil {
			return err
		}
		out = domain.OutcomeOf(bid, a.LastEventID)
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAuctionNotFound) && !errors.Is(err, domain.ErrIdempotencyConflict) {
			log.Error("PlaceBid: Failed", zap.Int64("auctionID", auctionID), zap.Error(err))
		}
		return domain.BidOutcome{}, fmt.Errorf("place bid on auction %d: %w", auctionID, err)
	}
	return out, nil
}
