package application

import (
	"context"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
)

// AuctionService defines application interface layer of auction module
// exposes uses cases to external layer, aka infra
type AuctionService interface {
	// PlaceBid handles a bid submission and returns its synchronous outcome
	PlaceBid(ctx context.Context, auctionID int64, sub domain.BidSubmission) (domain.BidOutcome, error)
	BuyNow(ctx context.Context, auctionID int64, req domain.BuyNowRequest) (domain.BuyNowResult, error)

	CreateAuction(ctx context.Context, actor domain.Actor, cmd CreateAuctionCommand) (*domain.Auction, error)
	ActivateAuction(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error)
	CloseAuction(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error)
	CancelAuction(ctx context.Context, actor domain.Actor, auctionID int64) (*domain.Auction, error)

	// Subscribe and Resume run their callback under the auction lock, used by the
	// real-time transport to order snapshots against live events
	Subscribe(ctx context.Context, auctionID int64, fn func(domain.StateSnapshot)) error
	Resume(ctx context.Context, auctionID, afterID int64, fn func(ResumeResult)) error
	GetAuctionState(ctx context.Context, auctionID int64) (domain.StateSnapshot, error)

	ListAuctions(ctx context.Context, q ListQuery) (AuctionPage, error)
	GetAuction(ctx context.Context, auctionID int64) (*domain.Auction, error)
	MyBids(ctx context.Context, auctionID, bidderID int64) ([]BidView, error)
	Results(ctx context.Context, auctionID int64, limit int) (domain.Standings, error)
	Stats(ctx context.Context) (StatsView, error)
}

var _ AuctionService = (*Engine)(nil)
