package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"go.uber.org/zap"
)

// CreateAuctionCommand carries a seller's request for a new draft auction. Nil
// soft-close settings fall back to the engine defaults.
type CreateAuctionCommand struct {
	ListingID           int64
	Type                domain.AuctionType
	AllowedMinBid       int64
	AllowedMaxBid       int64
	MinIncrement        int64
	ReservePrice        *int64
	BuyItNow            *int64
	StartAt             time.Time
	EndAt               time.Time
	IsAnonymous         bool
	SoftCloseTriggerSec *int
	SoftCloseExtendSec  *int
}

// CreateAuction stores a new draft auction owned by actor.
func (e *Engine) CreateAuction(ctx context.Context, actor domain.Actor, cmd CreateAuctionCommand) (*domain.Auction, error) {
	params := domain.NewAuctionParams{
		ListingID:           cmd.ListingID,
		SellerID:            actor.UserID,
		Type:                cmd.Type,
		AllowedMinBid:       cmd.AllowedMinBid,
		AllowedMaxBid:       cmd.AllowedMaxBid,
		MinIncrement:        cmd.MinIncrement,
		ReservePrice:        cmd.ReservePrice,
		BuyItNow:            cmd.BuyItNow,
		StartAt:             cmd.StartAt,
		EndAt:               cmd.EndAt,
		IsAnonymous:         cmd.IsAnonymous,
		SoftCloseTriggerSec: e.opts.SoftCloseTriggerSec,
		SoftCloseExtendSec:  e.opts.SoftCloseExtendSec,
	}
	if cmd.SoftCloseTriggerSec != nil {
		params.SoftCloseTriggerSec = *cmd.SoftCloseTriggerSec
	}
	if cmd.SoftCloseExtendSec != nil {
		params.SoftCloseExtendSec = *cmd.SoftCloseExtendSec
	}

	a, err := domain.NewAuction(params, e.now())
	if err != nil {
		log.Warn("CreateAuction: Invalid auction", zap.Int64("sellerID", actor.UserID), zap.Error(err))
		return nil, err
	}
	if err := e.store.Create(ctx, a); err != nil {
		log.Error("CreateAuction: Failed to store auction", zap.Int64("sellerID", actor.UserID), zap.Error(err))
		return nil, fmt.Errorf("create auction: %w", err)
	}
	log.Info("Auction created",
		zap.Int64("auctionID", a.ID),
		zap.Int64("sellerID", a.SellerID),
		zap.String("type", string(a.Type)),
	)
	return a, nil
}

// ActivateAuction opens a draft auction and pushes the fresh state to subscribers.
func (e *Engine) ActivateAuction(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error) {
	return e.transition(ctx, "activate", actor, auctionID, func(a *domain.Auction, now time.Time) (*domain.Commit, error) {
		return domain.Activate(a, now)
	})
}

// CloseAuction ends an open auction on the seller's request.
func (e *Engine) CloseAuction(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error) {
	return e.transition(ctx, "close", actor, auctionID, func(a *domain.Auction, now time.Time) (*domain.Commit, error) {
		bids, err := e.store.ListBids(ctx, auctionID)
		if err != nil {
			return nil, fmt.Errorf("list bids: %w", err)
		}
		return domain.Close(a, domain.CloseReasonClosed, bids, now)
	})
}

// CancelAuction withdraws an auction that has not finished.
func (e *Engine) CancelAuction(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error) {
	return e.transition(ctx, "cancel", actor, auctionID, func(a *domain.Auction, now time.Time) (*domain.Commit, error) {
		return domain.Cancel(a, now)
	})
}

// ExpireAuction closes an auction whose effective end has passed. It reports
// whether this call closed it.
func (e *Engine) ExpireAuction(ctx context.Context, auctionID int64) (bool, error) {
	closed := false
	err := e.withAuction(ctx, auctionID, func(a *domain.Auction) error {
		var err error
		closed, err = e.closeDue(ctx, a, e.now())
		return err
	})
	if err != nil {
		return false, fmt.Errorf("expire auction %d: %w", auctionID, err)
	}
	return closed, nil
}

func (e *Engine) transition(ctx context.Context, op string, actor domain.Actor, auctionID int64,
	fn func(a *domain.Auction, now time.Time) (*domain.Commit, error)) (*domain.Auction, error) {

	var out *domain.Auction
	err := e.withAuction(ctx, auctionID, func(a *domain.Auction) error {
		if err := a.CheckOwner(actor); err != nil {
			log.Warn("Lifecycle command refused",
				zap.String("op", op),
				zap.Int64("auctionID", auctionID),
				zap.Int64("userID", actor.UserID),
			)
			return err
		}
		now := e.now()
		// a manual close or cancel of an expired auction yields to the expiry
		if op != "activate" {
			closed, err := e.closeDue(ctx, a, now)
			if err != nil {
				return err
			}
			if closed && op == "close" {
				out = a
				return nil
			}
		}
		c, err := fn(a, now)
		if err != nil {
			return err
		}
		if err := e.apply(ctx, c); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrAuctionNotFound) &&
			!errors.Is(err, domain.ErrNotAuctionOwner) &&
			!errors.Is(err, domain.ErrInvalidTransition) {
			log.Error("Lifecycle command failed", zap.String("op", op), zap.Int64("auctionID", auctionID), zap.Error(err))
		}
		return nil, fmt.Errorf("%s auction %d: %w", op, auctionID, err)
	}
	return out, nil
}
