package domain

import (
	"time"

	"go.uber.org/zap"
)

// leaderboardSize bounds the standings carried by the closing leaderboard event.
const leaderboardSize = 10

// Actor is the authenticated caller of a lifecycle command.
type Actor struct {
	UserID int64
	Admin  bool
}

// CheckOwner allows the seller and administrators to manage the auction.
func (a *Auction) CheckOwner(actor Actor) error {
	if actor.Admin || actor.UserID == a.SellerID {
		return nil
	}
	return ErrNotAuctionOwner
}

// Activate opens a draft auction for bidding.
func Activate(a *Auction, now time.Time) (*Commit, error) {
	if a.Status != StatusDraft {
		log.Warn("Attempted to activate auction that is not draft",
			zap.Int64("auctionID", a.ID),
			zap.String("status", string(a.Status)),
		)
		return nil, invalidTransition(a.Status, StatusActive)
	}
	a.Status = StatusActive
	a.UpdatedAt = now
	log.Info("Auction activated",
		zap.Int64("auctionID", a.ID),
		zap.Time("endAt", a.EndAt),
	)
	return &Commit{Auction: a, Refresh: true}, nil
}

// Close ends an open auction and publishes the final standings. bids is the
// auction's ledger in commit order.
func Close(a *Auction, reason string, bids []*Bid, now time.Time) (*Commit, error) {
	el := newEventLog(a, now)
	if err := closeAuction(a, reason, bids, el); err != nil {
		return nil, err
	}
	return &Commit{Auction: a, Events: el.events}, nil
}

func closeAuction(a *Auction, reason string, bids []*Bid, el *eventLog) error {
	if !a.IsOpen() {
		log.Warn("Attempted to close auction that is not open",
			zap.Int64("auctionID", a.ID),
			zap.String("status", string(a.Status)),
		)
		return invalidTransition(a.Status, StatusEnded)
	}
	a.Status = StatusEnded
	a.UpdatedAt = el.now

	closed := Closed{
		Status:         a.Status,
		Reason:         reason,
		FinalPrice:     a.CurrentPrice,
		ReserveMet:     a.ReserveMet,
		ExtensionCount: a.ExtensionCount,
	}
	if a.HasWinner() {
		closed.Winner = Alias(a, *a.HighestBidderID)
	}
	el.emit(closed)
	el.emit(Leaderboard{Standings: Rank(a, bids, leaderboardSize)})

	log.Info("Auction closed",
		zap.Int64("auctionID", a.ID),
		zap.String("reason", reason),
		zap.Int64("finalPrice", a.CurrentPrice),
		zap.Bool("hasWinner", a.HasWinner()),
	)
	return nil
}

// Cancel withdraws an auction that has not finished. No winner is declared.
func Cancel(a *Auction, now time.Time) (*Commit, error) {
	if a.IsTerminal() {
		log.Warn("Attempted to cancel finished auction",
			zap.Int64("auctionID", a.ID),
			zap.String("status", string(a.Status)),
		)
		return nil, invalidTransition(a.Status, StatusCancelled)
	}
	a.Status = StatusCancelled
	a.UpdatedAt = now

	el := newEventLog(a, now)
	el.emit(Closed{
		Status:         a.Status,
		Reason:         CloseReasonCancelled,
		FinalPrice:     a.CurrentPrice,
		ReserveMet:     a.ReserveMet,
		ExtensionCount: a.ExtensionCount,
	})
	log.Info("Auction cancelled", zap.Int64("auctionID", a.ID))
	return &Commit{Auction: a, Events: el.events}, nil
}
