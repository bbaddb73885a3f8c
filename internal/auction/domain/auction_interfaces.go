package domain

import (
	"context"
	"time"
)

// ListFilter selects a page of auctions ordered by id.
type ListFilter struct {
	Status  AuctionStatus
	AfterID int64
	Limit   int
}

// Stats are marketplace wide counters. Amounts are summed over accepted bids.
type Stats struct {
	TotalAuctions  int64
	ActiveAuctions int64
	TotalBids      int64
	BidAmountSum   int64
}

type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id int64) (*Auction, error)
	List(ctx context.Context, f ListFilter) ([]*Auction, error)
	// ListDue returns ids of open auctions whose effective end is not after now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	Stats(ctx context.Context) (Stats, error)
}

type BidRepository interface {
	// ListBids returns the whole ledger of an auction in commit order.
	ListBids(ctx context.Context, auctionID int64) ([]*Bid, error)
	ListBidderBids(ctx context.Context, auctionID, bidderID int64) ([]*Bid, error)
	// FindAccepted returns the accepted manual bid for client_seq, or nil.
	FindAccepted(ctx context.Context, auctionID, bidderID, clientSeq int64) (*Bid, error)
}

type EventRepository interface {
	ListEventsAfter(ctx context.Context, auctionID, afterID int64, limit int) ([]StoredEvent, error)
}

type IdempotencyRepository interface {
	// GetIdempotency returns the record stored under key, or nil.
	GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, error)
}

// Store persists auctions and their ledgers. Commit applies everything in c
// atomically: on error nothing is visible to later reads.
type Store interface {
	AuctionRepository
	BidRepository
	EventRepository
	IdempotencyRepository
	Commit(ctx context.Context, c *Commit) error
}
