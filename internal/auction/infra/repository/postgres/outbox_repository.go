package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/jackc/pgx/v5"
)

// OutboxRepository reads ledger events that were not yet relayed to the broker.
// The auction_events table doubles as the outbox.
type OutboxRepository struct{}

// NewOutboxRepository creates new instance of OutboxRepository.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{}
}

// GetPendingEvents locks up to limit unpublished events in commit order.
// SKIP LOCKED lets several relays share the table without double publishing.
func (r *OutboxRepository) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]domain.StoredEvent, error) {
	query := `
        SELECT auction_id, event_id, event_type, payload, server_time
        FROM auction_events
        WHERE published_at IS NULL
        ORDER BY server_time ASC, auction_id ASC, event_id ASC
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    `
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.StoredEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkPublished stamps an event as relayed.
func (r *OutboxRepository) MarkPublished(ctx context.Context, tx pgx.Tx, auctionID, eventID int64, at time.Time) error {
	query := `UPDATE auction_events SET published_at = $3 WHERE auction_id = $1 AND event_id = $2`
	if _, err := tx.Exec(ctx, query, auctionID, eventID, at); err != nil {
		return fmt.Errorf("failed to mark event %d/%d published: %w", auctionID, eventID, err)
	}
	return nil
}
