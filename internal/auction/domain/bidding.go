package domain

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ValidateSubmission checks the request shape before any auction state is read.
func ValidateSubmission(sub BidSubmission) error {
	switch {
	case sub.BidderID <= 0:
		return fmt.Errorf("%w: bidder is required", ErrInvalidBid)
	case sub.ClientSeq <= 0:
		return fmt.Errorf("%w: client_seq must be positive", ErrInvalidBid)
	case sub.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidBid)
	}
	return nil
}

// PlaceBid validates sub against the auction and resolves it, mutating a. The
// returned bid is the ledger row for the submission itself, accepted or not.
// Replays of an already accepted client_seq are handled by the caller.
func PlaceBid(a *Auction, sub BidSubmission, now time.Time) (*Commit, *Bid) {
	bid := &Bid{
		AuctionID:      a.ID,
		BidderID:       sub.BidderID,
		Amount:         sub.Amount,
		ClientSeq:      sub.ClientSeq,
		Kind:           BidKindManual,
		Accepted:       true,
		MaxProxyAmount: sub.MaxProxyAmount,
		CreatedAt:      now,
	}
	c := &Commit{Auction: a, Bids: []*Bid{bid}}

	if reason := checkBid(a, sub, now); reason != "" {
		bid.reject(reason)
		log.Warn("Bid rejected",
			zap.Int64("auctionID", a.ID),
			zap.Int64("bidderID", sub.BidderID),
			zap.Int64("amount", sub.Amount),
			zap.Int64("currentPrice", a.CurrentPrice),
			zap.String("status", string(a.Status)),
			zap.String("reason", reason),
		)
		return c, bid
	}

	el := newEventLog(a, now)
	if a.Type == TypeSealed {
		resolveSealed(a, bid, el, c)
	} else {
		resolveEnglish(a, bid, el, c)
	}

	if applySoftClose(a, now, el) {
		bid.SoftCloseExtended = true
		until := *a.ExtendedUntil
		bid.ExtendedUntil = &until
	}
	a.UpdatedAt = now
	c.Events = el.events

	log.Info("Bid placed successfully",
		zap.Int64("auctionID", a.ID),
		zap.Int64("bidderID", sub.BidderID),
		zap.Int64("amount", sub.Amount),
		zap.Int64("newCurrentPrice", a.CurrentPrice),
		zap.Int64("eventID", bid.EventID),
		zap.Time("effectiveEnd", a.EffectiveEnd()),
	)
	return c, bid
}

func checkBid(a *Auction, sub BidSubmission, now time.Time) string {
	if !a.IsOpen() || a.IsDue(now) {
		return RejectAuctionNotActive
	}
	if sub.BidderID == a.SellerID {
		return RejectSellerCannotBid
	}
	if sub.MaxProxyAmount != nil && (a.Type == TypeSealed || *sub.MaxProxyAmount < sub.Amount) {
		return RejectInvalidProxyAmount
	}

	if a.Type == TypeSealed {
		if sub.Amount < a.AllowedMinBid || sub.Amount > a.AllowedMaxBid {
			return RejectAmountOutOfRange
		}
		return ""
	}

	minAmount := a.AllowedMinBid
	if a.HasLeader() {
		minAmount = a.CurrentPrice + a.MinIncrement
	}
	if sub.Amount < minAmount {
		return RejectAmountOutOfRange
	}
	if a.AllowedMaxBid > 0 && sub.Amount > a.AllowedMaxBid {
		return RejectAmountOutOfRange
	}
	return ""
}

// resolveEnglish settles a valid bid against the current leader's hidden ceiling.
// The leader is the only live proxy: every other ceiling is already at or below
// the current price.
func resolveEnglish(a *Auction, bid *Bid, el *eventLog, c *Commit) {
	prevPrice := a.CurrentPrice

	switch {
	case !a.HasLeader():
		a.CurrentPrice = bid.Amount
		setLeader(a, bid, bid.MaxProxyAmount, c)
		bid.EventID = el.emit(bidAccepted(a, bid))

	case a.IsLeader(bid.BidderID):
		// raising your own bid moves the price, the stronger ceiling survives
		ceiling := a.LeaderProxyMax
		if bid.MaxProxyAmount != nil && (ceiling == nil || *bid.MaxProxyAmount > *ceiling) {
			ceiling = bid.MaxProxyAmount
		}
		a.CurrentPrice = bid.Amount
		setLeader(a, bid, ceiling, c)
		bid.EventID = el.emit(bidAccepted(a, bid))

	default:
		incumbent := a.CurrentPrice
		if a.LeaderProxyMax != nil && *a.LeaderProxyMax > incumbent {
			incumbent = *a.LeaderProxyMax
		}
		ceiling := bid.Amount
		if bid.MaxProxyAmount != nil {
			ceiling = *bid.MaxProxyAmount
		}

		if ceiling > incumbent {
			overtaken := *a.HighestBidderID
			overtakenMax := a.LeaderProxyMax
			a.CurrentPrice = max(bid.Amount, min(ceiling, incumbent+a.MinIncrement))
			setLeader(a, bid, bid.MaxProxyAmount, c)
			bid.EventID = el.emit(bidAccepted(a, bid))
			c.Notices = append(c.Notices, outbidNotice(a, overtaken, overtakenMax))
			break
		}

		// ties go to the earlier registration
		a.CurrentPrice = bid.Amount
		bid.EventID = el.emit(bidAccepted(a, bid))

		auto := &Bid{
			AuctionID:      a.ID,
			BidderID:       *a.HighestBidderID,
			Amount:         min(incumbent, ceiling+a.MinIncrement),
			Kind:           BidKindAuto,
			Accepted:       true,
			MaxProxyAmount: a.LeaderProxyMax,
			CreatedAt:      bid.CreatedAt,
		}
		a.CurrentPrice = auto.Amount
		c.Bids = append(c.Bids, auto)
		c.WinningBid = auto
		auto.EventID = el.emit(bidAccepted(a, auto))
		c.Notices = append(c.Notices, outbidNotice(a, bid.BidderID, bid.MaxProxyAmount))

		log.Info("Proxy counter-bid placed",
			zap.Int64("auctionID", a.ID),
			zap.Int64("leaderID", auto.BidderID),
			zap.Int64("challengerID", bid.BidderID),
			zap.Int64("amount", auto.Amount),
		)
	}

	el.emit(PriceChanged{
		CurrentPrice:  a.CurrentPrice,
		PreviousPrice: prevPrice,
		HighestBidder: Alias(a, *a.HighestBidderID),
		ReserveMet:    a.ReserveMet || reserveReached(a),
	})
	checkReserve(a, el)
}

// resolveSealed keeps the highest amount as leader; an equal amount never displaces
// the earlier bid. Amounts and bidders stay hidden until the auction closes, so
// no price or outbid messages are produced.
func resolveSealed(a *Auction, bid *Bid, el *eventLog, c *Commit) {
	if !a.HasLeader() || bid.Amount > a.CurrentPrice {
		a.CurrentPrice = bid.Amount
		setLeader(a, bid, nil, c)
	}
	bid.EventID = el.emit(BidAccepted{Bid: bid, Sealed: true})
	if reserveReached(a) {
		a.ReserveMet = true
	}
}

func setLeader(a *Auction, bid *Bid, ceiling *int64, c *Commit) {
	bidder := bid.BidderID
	a.HighestBidderID = &bidder
	a.LeaderProxyMax = ceiling
	c.WinningBid = bid
}

func bidAccepted(a *Auction, bid *Bid) BidAccepted {
	return BidAccepted{
		Bid:          bid,
		BidderAlias:  Alias(a, bid.BidderID),
		CurrentPrice: a.CurrentPrice,
		ReserveMet:   a.ReserveMet || reserveReached(a),
	}
}

func outbidNotice(a *Auction, bidderID int64, yourMax *int64) Notice {
	return Notice{
		BidderID: bidderID,
		Payload: Outbid{
			CurrentPrice:  a.CurrentPrice,
			HighestBidder: Alias(a, *a.HighestBidderID),
			YourMax:       yourMax,
		},
	}
}

func reserveReached(a *Auction) bool {
	return a.ReservePrice != nil && a.CurrentPrice >= *a.ReservePrice
}

// checkReserve flips reserve_met on the first crossing and emits it exactly once.
func checkReserve(a *Auction, el *eventLog) {
	if a.ReserveMet || !reserveReached(a) {
		return
	}
	a.ReserveMet = true
	el.emit(ReserveMet{ReservePrice: *a.ReservePrice, CurrentPrice: a.CurrentPrice})
	log.Info("Auction reserve met",
		zap.Int64("auctionID", a.ID),
		zap.Int64("reservePrice", *a.ReservePrice),
		zap.Int64("currentPrice", a.CurrentPrice),
	)
}
