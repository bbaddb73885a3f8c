package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const bidColumns = `
	id, auction_id, bidder_id, amount, client_seq, kind, accepted, reject_reason,
	max_proxy_amount, event_id, soft_close_extended, extended_until, created_at`

// BidRepository implements domain.BidRepository interface
type BidRepository struct {
	pool *pgxpool.Pool
}

// NewBidRepository creates new instance of BidRepository.
func NewBidRepository(pool *pgxpool.Pool) *BidRepository {
	return &BidRepository{pool: pool}
}

// ListBids returns the ledger of an auction in commit order.
func (r *BidRepository) ListBids(ctx context.Context, auctionID int64) ([]*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 ORDER BY id ASC`
	return r.queryBids(ctx, query, auctionID)
}

// ListBidderBids returns one bidder's rows of an auction's ledger.
func (r *BidRepository) ListBidderBids(ctx context.Context, auctionID, bidderID int64) ([]*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 AND bidder_id = $2 ORDER BY id ASC`
	return r.queryBids(ctx, query, auctionID, bidderID)
}

// FindAccepted returns the accepted manual bid recorded for client_seq, or nil.
func (r *BidRepository) FindAccepted(ctx context.Context, auctionID, bidderID, clientSeq int64) (*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids
        WHERE auction_id = $1 AND bidder_id = $2 AND client_seq = $3 AND accepted AND kind = 'manual'
    `
	b, err := scanBid(r.pool.QueryRow(ctx, query, auctionID, bidderID, clientSeq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find bid: %w", err)
	}
	return b, nil
}

func (r *BidRepository) queryBids(ctx context.Context, query string, args ...any) ([]*domain.Bid, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	bids := make([]*domain.Bid, 0)
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}

// insertBid only inserts the ledger row, the auction update runs in the same
// transaction from Store.Commit.
func insertBid(ctx context.Context, tx pgx.Tx, b *domain.Bid) error {
	query := `
        INSERT INTO bids (
            auction_id, bidder_id, amount, client_seq, kind, accepted, reject_reason,
            max_proxy_amount, event_id, soft_close_extended, extended_until, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id
    `
	var reason *string
	if b.RejectReason != "" {
		reason = &b.RejectReason
	}
	return tx.QueryRow(ctx, query,
		b.AuctionID,
		b.BidderID,
		b.Amount,
		b.ClientSeq,
		string(b.Kind),
		b.Accepted,
		reason,
		b.MaxProxyAmount,
		b.EventID,
		b.SoftCloseExtended,
		b.ExtendedUntil,
		b.CreatedAt,
	).Scan(&b.ID)
}

func scanBid(row pgx.Row) (*domain.Bid, error) {
	b := &domain.Bid{}
	var kind string
	var reason *string
	err := row.Scan(
		&b.ID,
		&b.AuctionID,
		&b.BidderID,
		&b.Amount,
		&b.ClientSeq,
		&kind,
		&b.Accepted,
		&reason,
		&b.MaxProxyAmount,
		&b.EventID,
		&b.SoftCloseExtended,
		&b.ExtendedUntil,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Kind = domain.BidKind(kind)
	if reason != nil {
		b.RejectReason = *reason
	}
	b.CreatedAt = b.CreatedAt.UTC()
	if b.ExtendedUntil != nil {
		until := b.ExtendedUntil.UTC()
		b.ExtendedUntil = &until
	}
	return b, nil
}
