package domain

import (
	"time"
)

// BidKind tells how a bid entered the ledger.
type BidKind string

const (
	BidKindManual BidKind = "manual"  // submitted by the bidder
	BidKindAuto   BidKind = "auto"    // proxy counter-bid placed by the engine
	BidKindBuyNow BidKind = "buy_now" // buy-it-now purchase
)

// Bid is an immutable ledger entry. Rejected submissions are recorded too, with
// Accepted=false and a RejectReason.
type Bid struct {
	ID             int64
	AuctionID      int64
	BidderID       int64
	Amount         int64
	ClientSeq      int64
	Kind           BidKind
	Accepted       bool
	RejectReason   string
	MaxProxyAmount *int64
	CreatedAt      time.Time

	// recorded outcome, replayed verbatim for duplicate client_seq submissions
	EventID           int64
	SoftCloseExtended bool
	ExtendedUntil     *time.Time
}

// IsWinning is derived from the auction instead of stored on the bid.
func (b *Bid) IsWinning(a *Auction) bool {
	return b.Accepted && a.WinningBidID != nil && *a.WinningBidID == b.ID
}

// SamePayload reports whether a resubmission carries the same request as b.
func (b *Bid) SamePayload(sub BidSubmission) bool {
	if b.Amount != sub.Amount {
		return false
	}
	switch {
	case b.MaxProxyAmount == nil && sub.MaxProxyAmount == nil:
		return true
	case b.MaxProxyAmount == nil || sub.MaxProxyAmount == nil:
		return false
	default:
		return *b.MaxProxyAmount == *sub.MaxProxyAmount
	}
}

func (b *Bid) reject(reason string) {
	b.Accepted = false
	b.RejectReason = reason
}

// BidSubmission is the validated shape of a bid request.
type BidSubmission struct {
	BidderID       int64
	Amount         int64
	ClientSeq      int64
	MaxProxyAmount *int64
}

// BidOutcome is the synchronous answer to a bid submission.
type BidOutcome struct {
	Accepted          bool
	RejectReason      string
	ServerTime        time.Time
	EventID           int64
	SoftCloseExtended bool
	ExtendedUntil     *time.Time
	Replayed          bool
}

// OutcomeOf rebuilds the response recorded for b.
func OutcomeOf(b *Bid, lastEventID int64) BidOutcome {
	o := BidOutcome{
		Accepted:          b.Accepted,
		RejectReason:      b.RejectReason,
		ServerTime:        b.CreatedAt,
		EventID:           b.EventID,
		SoftCloseExtended: b.SoftCloseExtended,
		ExtendedUntil:     b.ExtendedUntil,
	}
	if !b.Accepted {
		o.EventID = lastEventID
	}
	return o
}
