package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"go.uber.org/zap"
)

// maxIdempotencyKeyLen matches the key column of the store.
const maxIdempotencyKeyLen = 255

// BuyNow purchases the item at its buy-it-now price. The first outcome stored
// under req.Key is returned for every replay of the same request.
func (e *Engine) BuyNow(ctx context.Context, auctionID int64, req domain.BuyNowRequest) (domain.BuyNowResult, error) {
	req.Key = strings.TrimSpace(req.Key)
	log.Info("Executing BuyNow",
		zap.Int64("auctionID", auctionID),
		zap.Int64("bidderID", req.BidderID),
		zap.Int64("clientSeq", req.ClientSeq),
	)
	switch {
	case req.Key == "":
		return domain.BuyNowResult{}, domain.ErrMissingIdempotency
	case len(req.Key) > maxIdempotencyKeyLen:
		return domain.BuyNowResult{}, fmt.Errorf("%w: Idempotency-Key is too long", domain.ErrInvalidBid)
	case req.BidderID <= 0:
		return domain.BuyNowResult{}, fmt.Errorf("%w: bidder is required", domain.ErrInvalidBid)
	case req.ClientSeq <= 0:
		return domain.BuyNowResult{}, fmt.Errorf("%w: client_seq must be positive", domain.ErrInvalidBid)
	}

	var res domain.BuyNowResult
	err := e.withAuction(ctx, auctionID, func(a *domain.Auction) error {
		rec, err := e.store.GetIdempotency(ctx, req.Key)
		if err != nil {
			return fmt.Errorf("load idempotency key: %w", err)
		}
		if rec != nil {
			if !rec.Matches(auctionID, req) {
				log.Warn("BuyNow: Idempotency-Key reused with a different request",
					zap.Int64("auctionID", auctionID),
					zap.Int64("recordAuctionID", rec.AuctionID),
					zap.Int64("bidderID", req.BidderID),
				)
				return domain.ErrIdempotencyConflict
			}
			res = rec.Result
			return nil
		}

		now := e.now()
		if _, err := e.closeDue(ctx, a, now); err != nil {
			return err
		}
		bids, err := e.store.ListBids(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("list bids: %w", err)
		}
		c := domain.BuyNow(a, req, bids, now)
		if err := e.apply(ctx, c); err != nil {
			return err
		}
		res = c.Idempotency.Result
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAuctionNotFound) && !errors.Is(err, domain.ErrIdempotencyConflict) {
			log.Error("BuyNow: Failed", zap.Int64("auctionID", auctionID), zap.Error(err))
		}
		return domain.BuyNowResult{}, fmt.Errorf("buy now on auction %d: %w", auctionID, err)
	}
	return res, nil
}
