package domain

import (
	"time"

	"github.com/cristianortiz/bidengine/internal/shared/logger"
)

var log = logger.GetLogger()

// AuctionStatus represents the lifecycle state of an auction
type AuctionStatus string

const (
	StatusDraft     AuctionStatus = "draft"
	StatusActive    AuctionStatus = "active"
	StatusExtended  AuctionStatus = "extended"
	StatusEnded     AuctionStatus = "ended"
	StatusCancelled AuctionStatus = "cancelled"
)

// IsValid reports whether s is one of the known statuses.
func (s AuctionStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusExtended, StatusEnded, StatusCancelled:
		return true
	default:
		return false
	}
}

// AuctionType selects the bidding rules applied to an auction.
type AuctionType string

const (
	TypeEnglish AuctionType = "english"
	TypeSealed  AuctionType = "sealed"
)

// Auction is the aggregate mutated by the engine. Values are copied in and out of
// the domain functions; the engine never shares one between goroutines.
type Auction struct {
	ID        int64
	ListingID int64
	SellerID  int64
	Type      AuctionType
	Status    AuctionStatus

	AllowedMinBid int64
	AllowedMaxBid int64
	CurrentPrice  int64
	MinIncrement  int64
	ReservePrice  *int64
	BuyItNow      *int64
	ReserveMet    bool

	StartAt        time.Time
	EndAt          time.Time
	ExtendedUntil  *time.Time
	ExtensionCount int

	IsAnonymous         bool
	SoftCloseTriggerSec int
	SoftCloseExtendSec  int

	HighestBidderID *int64
	WinningBidID    *int64
	// hidden ceiling of the current leader, nil when the leader bid manually
	LeaderProxyMax *int64
	LastEventID    int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveEnd is extended_until when the auction was extended, end_at otherwise.
func (a *Auction) EffectiveEnd() time.Time {
	if a.ExtendedUntil != nil {
		return *a.ExtendedUntil
	}
	return a.EndAt
}

// IsOpen reports whether the auction accepts bids.
func (a *Auction) IsOpen() bool {
	return a.Status == StatusActive || a.Status == StatusExtended
}

// IsTerminal reports whether no further transition is possible.
func (a *Auction) IsTerminal() bool {
	return a.Status == StatusEnded || a.Status == StatusCancelled
}

// IsDue reports whether an open auction has passed its effective end.
func (a *Auction) IsDue(now time.Time) bool {
	return a.IsOpen() && !now.Before(a.EffectiveEnd())
}

// HasLeader reports whether at least one bid is currently winning.
func (a *Auction) HasLeader() bool {
	return a.HighestBidderID != nil
}

// IsLeader reports whether bidderID holds the winning bid.
func (a *Auction) IsLeader(bidderID int64) bool {
	return a.HighestBidderID != nil && *a.HighestBidderID == bidderID
}

// HasWinner reports whether a terminal auction sold: someone leads and the reserve,
// if any, was met.
func (a *Auction) HasWinner() bool {
	return a.Status == StatusEnded && a.HasLeader() && (a.ReservePrice == nil || a.ReserveMet)
}

// NewAuctionParams carries the seller supplied values for a new draft auction.
type NewAuctionParams struct {
	ListingID           int64
	SellerID            int64
	Type                AuctionType
	AllowedMinBid       int64
	AllowedMaxBid       int64
	MinIncrement        int64
	ReservePrice        *int64
	BuyItNow            *int64
	StartAt             time.Time
	EndAt               time.Time
	IsAnonymous         bool
	SoftCloseTriggerSec int
	SoftCloseExtendSec  int
}

// NewAuction validates params and builds a draft auction.
func NewAuction(p NewAuctionParams, now time.Time) (*Auction, error) {
	if p.Type == "" {
		p.Type = TypeEnglish
	}
	if err := validateNewAuction(p); err != nil {
		return nil, err
	}

	a := &Auction{
		ListingID:           p.ListingID,
		SellerID:            p.SellerID,
		Type:                p.Type,
		Status:              StatusDraft,
		AllowedMinBid:       p.AllowedMinBid,
		AllowedMaxBid:       p.AllowedMaxBid,
		MinIncrement:        p.MinIncrement,
		ReservePrice:        p.ReservePrice,
		BuyItNow:            p.BuyItNow,
		StartAt:             p.StartAt.UTC(),
		EndAt:               p.EndAt.UTC(),
		IsAnonymous:         p.IsAnonymous,
		SoftCloseTriggerSec: p.SoftCloseTriggerSec,
		SoftCloseExtendSec:  p.SoftCloseExtendSec,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if a.Type == TypeEnglish {
		// english auctions open at the minimum allowed bid
		a.CurrentPrice = a.AllowedMinBid
	}
	return a, nil
}

func validateNewAuction(p NewAuctionParams) error {
	switch {
	case p.Type != TypeEnglish && p.Type != TypeSealed:
		return invalidAuction("auction_type must be english or sealed")
	case p.ListingID <= 0:
		return invalidAuction("listing_id is required")
	case p.AllowedMinBid <= 0:
		return invalidAuction("allowed_min_bid must be positive")
	case p.AllowedMaxBid != 0 && p.AllowedMaxBid < p.AllowedMinBid:
		return invalidAuction("allowed_max_bid must not be below allowed_min_bid")
	case p.Type == TypeSealed && p.AllowedMaxBid == 0:
		return invalidAuction("sealed auctions need allowed_max_bid")
	case !p.EndAt.After(p.StartAt):
		return invalidAuction("end_at must be after start_at")
	case p.SoftCloseTriggerSec < 0 || p.SoftCloseExtendSec < 0:
		return invalidAuction("soft close settings must not be negative")
	}

	if p.Type == TypeEnglish {
		switch {
		case p.MinIncrement <= 0:
			return invalidAuction("min_increment must be positive")
		case p.ReservePrice != nil && *p.ReservePrice <= 0:
			return invalidAuction("reserve_price must be positive")
		case p.BuyItNow != nil && *p.BuyItNow <= p.AllowedMinBid:
			return invalidAuction("buy_it_now must be above allowed_min_bid")
		case p.BuyItNow != nil && p.ReservePrice != nil && *p.BuyItNow < *p.ReservePrice:
			return invalidAuction("buy_it_now must not be below reserve_price")
		}
	} else if p.BuyItNow != nil {
		return invalidAuction("buy_it_now is only available for english auctions")
	}
	return nil
}

// StateSnapshot is the full view sent to a subscriber so it can resynchronize
// without replaying history.
type StateSnapshot struct {
	AuctionID      int64         `json:"auction_id"`
	AuctionType    AuctionType   `json:"auction_type"`
	Status         AuctionStatus `json:"status_code"`
	CurrentPrice   int64         `json:"current_price"`
	MinIncrement   int64         `json:"min_increment,omitempty"`
	ReserveMet     bool          `json:"reserve_met"`
	BuyItNow       *int64        `json:"buy_it_now,omitempty"`
	EndAt          time.Time     `json:"end_at"`
	ExtendedUntil  *time.Time    `json:"extended_until,omitempty"`
	ExtensionCount int           `json:"extension_count"`
	HighestBidder  string        `json:"highest_bidder,omitempty"`
	LastEventID    int64         `json:"last_event_id"`
}

// Snapshot builds the subscriber view of the auction.
func (a *Auction) Snapshot() StateSnapshot {
	s := StateSnapshot{
		AuctionID:      a.ID,
		AuctionType:    a.Type,
		Status:         a.Status,
		CurrentPrice:   a.CurrentPrice,
		MinIncrement:   a.MinIncrement,
		ReserveMet:     a.ReserveMet,
		BuyItNow:       a.BuyItNow,
		EndAt:          a.EndAt,
		ExtendedUntil:  a.ExtendedUntil,
		ExtensionCount: a.ExtensionCount,
		LastEventID:    a.LastEventID,
	}
	if a.Type == TypeSealed && !a.IsTerminal() {
		// sealed bids stay hidden until the auction is over
		s.CurrentPrice = 0
		return s
	}
	if a.HighestBidderID != nil {
		s.HighestBidder = Alias(a, *a.HighestBidderID)
	}
	return s
}
