package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auctionColumns = `
	id, listing_id, seller_id, auction_type, status,
	allowed_min_bid, allowed_max_bid, current_price, min_increment,
	reserve_price, buy_it_now, reserve_met,
	start_at, end_at, extended_until, extension_count,
	is_anonymous, soft_close_trigger_sec, soft_close_extend_sec,
	highest_bidder_id, winning_bid_id, leader_proxy_max, last_event_id,
	created_at, updated_at`

// AuctionRepository implements domain.AuctionRepository interface
type AuctionRepository struct {
	pool *pgxpool.Pool
}

// NewAuctionRepository creates a new instance of AuctionRepository
func NewAuctionRepository(pool *pgxpool.Pool) *AuctionRepository {
	return &AuctionRepository{pool: pool}
}

// Create inserts a new auction and sets its generated id.
func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	query := `
        INSERT INTO auctions (
            listing_id, seller_id, auction_type, status,
            allowed_min_bid, allowed_max_bid, current_price, min_increment,
            reserve_price, buy_it_now, start_at, end_at,
            is_anonymous, soft_close_trigger_sec, soft_close_extend_sec,
            created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        RETURNING id
    `
	err := r.pool.QueryRow(ctx, query,
		a.ListingID,
		a.SellerID,
		string(a.Type),
		string(a.Status),
		a.AllowedMinBid,
		a.AllowedMaxBid,
		a.CurrentPrice,
		a.MinIncrement,
		a.ReservePrice,
		a.BuyItNow,
		a.StartAt,
		a.EndAt,
		a.IsAnonymous,
		a.SoftCloseTriggerSec,
		a.SoftCloseExtendSec,
		a.CreatedAt,
		a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// GetByID returns the auction or domain.ErrAuctionNotFound.
func (r *AuctionRepository) GetByID(ctx context.Context, id int64) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	a, err := scanAuction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", domain.ErrAuctionNotFound, id)
		}
		return nil, fmt.Errorf("failed to get auction %d: %w", id, err)
	}
	return a, nil
}

// List returns auctions with id greater than f.AfterID in id order.
func (r *AuctionRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions
        WHERE id > $1 AND ($2 = '' OR status = $2)
        ORDER BY id ASC
        LIMIT NULLIF($3::INT, 0)
    `
	rows, err := r.pool.Query(ctx, query, f.AfterID, string(f.Status), f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	auctions := make([]*domain.Auction, 0)
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auctions, nil
}

// ListDue returns open auctions whose effective end is not after now, soonest first.
func (r *AuctionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
        SELECT id
        FROM auctions
        WHERE status IN ('active', 'extended') AND COALESCE(extended_until, end_at) <= $1
        ORDER BY COALESCE(extended_until, end_at) ASC, id ASC
        LIMIT NULLIF($2::INT, 0)
    `
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due auctions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan due auctions: %w", err)
	}
	return ids, nil
}

// Stats counts auctions and accepted bids.
func (r *AuctionRepository) Stats(ctx context.Context) (domain.Stats, error) {
	query := `
        SELECT
            (SELECT COUNT(*) FROM auctions),
            (SELECT COUNT(*) FROM auctions WHERE status IN ('active', 'extended')),
            (SELECT COUNT(*) FROM bids WHERE accepted),
            (SELECT COALESCE(SUM(amount), 0)::BIGINT FROM bids WHERE accepted)
    `
	var s domain.Stats
	err := r.pool.QueryRow(ctx, query).Scan(&s.TotalAuctions, &s.ActiveAuctions, &s.TotalBids, &s.BidAmountSum)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to load stats: %w", err)
	}
	return s, nil
}

// updateAuction writes the mutable columns of a. prevEventID guards against a
// writer that committed in between.
func updateAuction(ctx context.Context, tx pgx.Tx, a *domain.Auction, prevEventID int64) error {
	query := `
        UPDATE auctions SET
            status = $2,
            current_price = $3,
            reserve_met = $4,
            extended_until = $5,
            extension_count = $6,
            highest_bidder_id = $7,
            winning_bid_id = $8,
            leader_proxy_max = $9,
            last_event_id = $10,
            updated_at = $11
        WHERE id = $1 AND last_event_id = $12
    `
	tag, err := tx.Exec(ctx, query,
		a.ID,
		string(a.Status),
		a.CurrentPrice,
		a.ReserveMet,
		a.ExtendedUntil,
		a.ExtensionCount,
		a.HighestBidderID,
		a.WinningBidID,
		a.LeaderProxyMax,
		a.LastEventID,
		a.UpdatedAt,
		prevEventID,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction %d: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: auction %d", ErrStaleAuction, a.ID)
	}
	return nil
}

func scanAuction(row pgx.Row) (*domain.Auction, error) {
	a := &domain.Auction{}
	var auctionType, status string
	err := row.Scan(
		&a.ID,
		&a.ListingID,
		&a.SellerID,
		&auctionType,
		&status,
		&a.AllowedMinBid,
		&a.AllowedMaxBid,
		&a.CurrentPrice,
		&a.MinIncrement,
		&a.ReservePrice,
		&a.BuyItNow,
		&a.ReserveMet,
		&a.StartAt,
		&a.EndAt,
		&a.ExtendedUntil,
		&a.ExtensionCount,
		&a.IsAnonymous,
		&a.SoftCloseTriggerSec,
		&a.SoftCloseExtendSec,
		&a.HighestBidderID,
		&a.WinningBidID,
		&a.LeaderProxyMax,
		&a.LastEventID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AuctionType(auctionType)
	a.Status = domain.AuctionStatus(status)
	a.StartAt = a.StartAt.UTC()
	a.EndAt = a.EndAt.UTC()
	if a.ExtendedUntil != nil {
		until := a.ExtendedUntil.UTC()
		a.ExtendedUntil = &until
	}
	return a, nil
}
