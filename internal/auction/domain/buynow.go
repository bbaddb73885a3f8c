package domain

import (
	"time"

	"go.uber.org/zap"
)

// BuyNowRequest is a buy-it-now purchase keyed by the client's Idempotency-Key.
type BuyNowRequest struct {
	Key       string
	BidderID  int64
	ClientSeq int64
}

// BuyNowResult is returned to the buyer and stored under the idempotency key.
type BuyNowResult struct {
	Accepted     bool          `json:"accepted"`
	RejectReason string        `json:"reject_reason,omitempty"`
	ServerTime   time.Time     `json:"server_time"`
	EventID      int64         `json:"event_id"`
	Amount       *int64        `json:"amount,omitempty"`
	Status       AuctionStatus `json:"status"`
}

// IdempotencyRecord binds a key to the request it was first used with and the
// outcome that request produced.
type IdempotencyRecord struct {
	Key       string
	AuctionID int64
	BidderID  int64
	ClientSeq int64
	Result    BuyNowResult
	CreatedAt time.Time
}

// Matches reports whether req replays the request recorded under the same key.
func (r *IdempotencyRecord) Matches(auctionID int64, req BuyNowRequest) bool {
	return r.AuctionID == auctionID && r.BidderID == req.BidderID && r.ClientSeq == req.ClientSeq
}

// BuyNow buys the item at its buy-it-now price and closes the auction. Both
// outcomes are recorded under the request key. bids is the auction's ledger in
// commit order, used for the closing leaderboard.
func BuyNow(a *Auction, req BuyNowRequest, bids []*Bid, now time.Time) *Commit {
	bid := &Bid{
		AuctionID: a.ID,
		BidderID:  req.BidderID,
		ClientSeq: req.ClientSeq,
		Kind:      BidKindBuyNow,
		Accepted:  true,
		CreatedAt: now,
	}
	if a.BuyItNow != nil {
		bid.Amount = *a.BuyItNow
	}
	c := &Commit{Auction: a, Bids: []*Bid{bid}}
	record := &IdempotencyRecord{
		Key:       req.Key,
		AuctionID: a.ID,
		BidderID:  req.BidderID,
		ClientSeq: req.ClientSeq,
		CreatedAt: now,
	}
	c.Idempotency = record

	reason := ""
	switch {
	case a.Type != TypeEnglish || a.BuyItNow == nil || !a.IsOpen() || a.IsDue(now):
		reason = RejectBuyItNowUnavailable
	case req.BidderID == a.SellerID:
		reason = RejectSellerCannotBid
	case a.CurrentPrice >= *a.BuyItNow:
		reason = RejectBuyItNowUnavailable
	}
	if reason != "" {
		bid.reject(reason)
		record.Result = BuyNowResult{
			RejectReason: reason,
			ServerTime:   now,
			EventID:      a.LastEventID,
			Status:       a.Status,
		}
		log.Warn("Buy it now rejected",
			zap.Int64("auctionID", a.ID),
			zap.Int64("bidderID", req.BidderID),
			zap.String("status", string(a.Status)),
			zap.String("reason", reason),
		)
		return c
	}

	el := newEventLog(a, now)
	prevPrice := a.CurrentPrice
	var overtaken *int64
	if a.HasLeader() && !a.IsLeader(req.BidderID) {
		overtaken = a.HighestBidderID
	}
	overtakenMax := a.LeaderProxyMax

	a.CurrentPrice = bid.Amount
	setLeader(a, bid, nil, c)
	bid.EventID = el.emit(BuyItNowPurchased{Bid: bid, BidderAlias: Alias(a, req.BidderID)})
	el.emit(PriceChanged{
		CurrentPrice:  a.CurrentPrice,
		PreviousPrice: prevPrice,
		HighestBidder: Alias(a, req.BidderID),
		ReserveMet:    a.ReserveMet || reserveReached(a),
	})
	checkReserve(a, el)

	ledger := make([]*Bid, 0, len(bids)+1)
	ledger = append(ledger, bids...)
	ledger = append(ledger, bid)
	// the auction is open here, closing cannot fail
	_ = closeAuction(a, CloseReasonBuyItNow, ledger, el)

	if overtaken != nil {
		c.Notices = append(c.Notices, outbidNotice(a, *overtaken, overtakenMax))
	}
	c.Events = el.events

	amount := bid.Amount
	record.Result = BuyNowResult{
		Accepted:   true,
		ServerTime: now,
		EventID:    bid.EventID,
		Amount:     &amount,
		Status:     a.Status,
	}
	log.Info("Buy it now accepted",
		zap.Int64("auctionID", a.ID),
		zap.Int64("bidderID", req.BidderID),
		zap.Int64("amount", amount),
	)
	return c
}
