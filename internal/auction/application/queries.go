package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize    = 20
	maxPageSize        = 100
	defaultResultsSize = 10
)

// ListQuery selects a page of auctions. PageToken is the opaque token returned
// with the previous page.
type ListQuery struct {
	Status    string
	Limit     int
	PageToken string
}

// AuctionPage is one page of auctions ordered by id.
type AuctionPage struct {
	Items         []*domain.Auction
	NextPageToken string
}

// BidView is a bid as its bidder sees it.
type BidView struct {
	*domain.Bid
	IsWinning bool
}

// StatsView are the marketplace counters with the average accepted bid.
type StatsView struct {
	TotalAuctions  int64
	ActiveAuctions int64
	TotalBids      int64
	AvgBidAmount   decimal.Decimal
}

// ListAuctions returns one page of auctions.
func (e *Engine) ListAuctions(ctx context.Context, q ListQuery) (AuctionPage, error) {
	f := domain.ListFilter{Limit: q.Limit}
	if q.Status != "" {
		f.Status = domain.AuctionStatus(q.Status)
		if !f.Status.IsValid() {
			return AuctionPage{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidQuery, q.Status)
		}
	}
	switch {
	case f.Limit < 0:
		return AuctionPage{}, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidQuery)
	case f.Limit == 0:
		f.Limit = defaultPageSize
	case f.Limit > maxPageSize:
		f.Limit = maxPageSize
	}
	if q.PageToken != "" {
		after, err := decodePageToken(q.PageToken)
		if err != nil {
			return AuctionPage{}, err
		}
		f.AfterID = after
	}

	pageSize := f.Limit
	f.Limit++ // one extra row tells whether another page exists
	items, err := e.store.List(ctx, f)
	if err != nil {
		log.Error("ListAuctions: Failed to list auctions", zap.Error(err))
		return AuctionPage{}, fmt.Errorf("list auctions: %w", err)
	}

	page := AuctionPage{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		page.NextPageToken = encodePageToken(page.Items[pageSize-1].ID)
	}
	return page, nil
}

// GetAuction returns one auction.
func (e *Engine) GetAuction(ctx context.Context, auctionID int64) (*domain.Auction, error) {
	a, err := e.store.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get auction %d: %w", auctionID, err)
	}
	return a, nil
}

// MyBids returns the bidder's ledger rows for an auction, newest last.
func (e *Engine) MyBids(ctx context.Context, auctionID, bidderID int64) ([]BidView, error) {
	a, err := e.store.GetByID(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get auction %d: %w", auctionID, err)
	}
	bids, err := e.store.ListBidderBids(ctx, auctionID, bidderID)
	if err != nil {
		log.Error("MyBids: Failed to list bids",
			zap.Int64("auctionID", auctionID),
			zap.Int64("bidderID", bidderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("list bids of bidder %d: %w", bidderID, err)
	}

	views := make([]BidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, BidView{Bid: b, IsWinning: b.IsWinning(a)})
	}
	return views, nil
}

// Results ranks the bidders of an auction.
func (e *Engine) Results(ctx context.Context, auctionID int64, limit int) (domain.Standings, error) {
	if limit < 0 {
		return domain.Standings{}, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidQuery)
	}
	if limit == 0 {
		limit = defaultResultsSize
	}
	a, err := e.store.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Standings{}, fmt.Errorf("get auction %d: %w", auctionID, err)
	}
	bids, err := e.store.ListBids(ctx, auctionID)
	if err != nil {
		log.Error("Results: Failed to list bids", zap.Int64("auctionID", auctionID), zap.Error(err))
		return domain.Standings{}, fmt.Errorf("list bids of auction %d: %w", auctionID, err)
	}
	return domain.Rank(a, bids, limit), nil
}

// Stats returns the marketplace counters. The average is rounded to 2 places.
func (e *Engine) Stats(ctx context.Context) (StatsView, error) {
	s, err := e.store.Stats(ctx)
	if err != nil {
		log.Error("Stats: Failed to load stats", zap.Error(err))
		return StatsView{}, fmt.Errorf("load stats: %w", err)
	}
	v := StatsView{
		TotalAuctions:  s.TotalAuctions,
		ActiveAuctions: s.ActiveAuctions,
		TotalBids:      s.TotalBids,
		AvgBidAmount:   decimal.Zero,
	}
	if s.TotalBids > 0 {
		v.AvgBidAmount = decimal.NewFromInt(s.BidAmountSum).
			DivRound(decimal.NewFromInt(s.TotalBids), 2)
	}
	return v, nil
}

func encodePageToken(lastID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(lastID, 10)))
}

func decodePageToken(token string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed page_token", domain.ErrInvalidQuery)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: malformed page_token", domain.ErrInvalidQuery)
	}
	return id, nil
}
