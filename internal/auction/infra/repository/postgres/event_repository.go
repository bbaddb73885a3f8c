package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository reads the committed event ledger and idempotency records.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates new instance of EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// ListEventsAfter returns up to limit events with id greater than afterID.
func (r *EventRepository) ListEventsAfter(ctx context.Context, auctionID, afterID int64, limit int) ([]domain.StoredEvent, error) {
	query := `
        SELECT auction_id, event_id, event_type, payload, server_time
        FROM auction_events
        WHERE auction_id = $1 AND event_id > $2
        ORDER BY event_id ASC
        LIMIT NULLIF($3::INT, 0)
    `
	rows, err := r.pool.Query(ctx, query, auctionID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
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

// GetIdempotency returns the record stored under key, or nil.
func (r *EventRepository) GetIdempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `
        SELECT key, auction_id, bidder_id, client_seq, result, created_at
        FROM idempotency_keys
        WHERE key = $1
    `
	rec := &domain.IdempotencyRecord{}
	var result []byte
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&rec.AuctionID,
		&rec.BidderID,
		&rec.ClientSeq,
		&result,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency result: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	query := `
        INSERT INTO auction_events (auction_id, event_id, event_type, payload, server_time)
        VALUES ($1, $2, $3, $4, $5)
    `
	batch := &pgx.Batch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", ev.Type(), err)
		}
		batch.Queue(query, ev.AuctionID, ev.ID, ev.Type().String(), payload, ev.ServerTime)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

func insertIdempotency(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency result: %w", err)
	}
	query := `
        INSERT INTO idempotency_keys (key, auction_id, bidder_id, client_seq, result, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err = tx.Exec(ctx, query, rec.Key, rec.AuctionID, rec.BidderID, rec.ClientSeq, result, rec.CreatedAt)
	return err
}

func scanEvent(row pgx.Row) (domain.StoredEvent, error) {
	var ev domain.StoredEvent
	var eventType string
	var payload []byte
	if err := row.Scan(&ev.AuctionID, &ev.EventID, &eventType, &payload, &ev.ServerTime); err != nil {
		return domain.StoredEvent{}, err
	}
	ev.Type = domain.EventType(eventType)
	ev.Data = json.RawMessage(payload)
	ev.ServerTime = ev.ServerTime.UTC()
	return ev, nil
}
