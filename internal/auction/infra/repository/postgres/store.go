package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/db"
	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// ErrStaleAuction means another writer committed to the auction after it was
// loaded. The whole commit is rolled back.
var ErrStaleAuction = errors.New("auction changed concurrently")

const uniqueViolation = "23505"

// Store implements domain.Store on Postgres. Commit runs in one transaction.
type Store struct {
	*AuctionRepository
	*BidRepository
	*EventRepository
	txManager *db.TxManager
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a Postgres backed store.
func NewStore(pool *pgxpool.Pool, txManager *db.TxManager) *Store {
	return &Store{
		AuctionRepository: NewAuctionRepository(pool),
		BidRepository:     NewBidRepository(pool),
		EventRepository:   NewEventRepository(pool),
		txManager:         txManager,
	}
}

// Commit inserts the new bids, events and idempotency record and updates the
// auction row, all or nothing. Bid ids and the winning bid id are set on the
// commit's values.
func (s *Store) Commit(ctx context.Context, c *domain.Commit) error {
	a := c.Auction
	prevEventID := a.LastEventID - int64(len(c.Events))
	prevWinning := a.WinningBidID

	err := s.txManager.WithTx(ctx, func(tx pgx.Tx) error {
		for _, b := range c.Bids {
			if err := insertBid(ctx, tx, b); err != nil {
				return fmt.Errorf("failed to insert bid: %w", err)
			}
		}
		if c.WinningBid != nil {
			id := c.WinningBid.ID
			a.WinningBidID = &id
		}
		if err := updateAuction(ctx, tx, a, prevEventID); err != nil {
			return err
		}
		// payloads reference bid ids, so events go after the bids
		if err := insertEvents(ctx, tx, c.Events); err != nil {
			return err
		}
		if c.Idempotency != nil {
			if err := insertIdempotency(ctx, tx, c.Idempotency); err != nil {
				return fmt.Errorf("failed to insert idempotency key: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		for _, b := range c.Bids {
			b.ID = 0
		}
		a.WinningBidID = prevWinning

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			log.Warn("Commit hit a unique constraint",
				zap.Int64("auctionID", a.ID),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return fmt.Errorf("%w: %s", domain.ErrIdempotencyConflict, pgErr.ConstraintName)
		}
		return err
	}

	log.Debug("Auction commit persisted",
		zap.Int64("auctionID", a.ID),
		zap.Int("bids", len(c.Bids)),
		zap.Int("events", len(c.Events)),
		zap.Int64("lastEventID", a.LastEventID),
	)
	return nil
}
