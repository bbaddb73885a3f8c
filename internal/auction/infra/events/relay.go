package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Outbox is the table of committed events still waiting for the broker.
type Outbox interface {
	GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]domain.StoredEvent, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, auctionID, eventID int64, at time.Time) error
}

// EventPublisher defines the interface for publishing events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, exchange string, msg Message) error
}

// TxBeginner starts the transaction a batch is claimed in.
type TxBeginner interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
}

// OutboxRelay polls the outbox and publishes pending events. An event is marked
// published in the same transaction that locked it, so a failed publish leaves it
// pending for the next round.
type OutboxRelay struct {
	outbox    Outbox
	publisher EventPublisher
	txManager TxBeginner
	exchange  string
	batchSize int
	interval  time.Duration
	now       func() time.Time
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(
	outbox Outbox,
	publisher EventPublisher,
	txManager TxBeginner,
	exchange string,
	batchSize int,
	interval time.Duration,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		txManager: txManager,
		exchange:  exchange,
		batchSize: batchSize,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the polling loop
func (r *OutboxRelay) Run(ctx context.Context) error {
	log.Info("Outbox relay started",
		zap.String("exchange", r.exchange),
		zap.Duration("interval", r.interval),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.processBatch(ctx); err != nil && ctx.Err() == nil {
			log.Error("Outbox relay: Error processing batch", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			log.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (r *OutboxRelay) processBatch(ctx context.Context) (int, error) {
	tx, err := r.txManager.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	events, err := r.outbox.GetPendingEvents(ctx, tx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, ev := range events {
		msg, err := newMessage(ev)
		if err != nil {
			return 0, err
		}
		if err := r.publisher.Publish(ctx, r.exchange, msg); err != nil {
			return 0, fmt.Errorf("failed to publish event %s: %w", msg.ID, err)
		}
		if err := r.outbox.MarkPublished(ctx, tx, ev.AuctionID, ev.EventID, r.now()); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit relay batch: %w", err)
	}
	log.Debug("Outbox relay published events", zap.Int("count", len(events)))
	return len(events), nil
}

// newMessage wraps a ledger event the way subscribers see it, plus its auction id.
func newMessage(ev domain.StoredEvent) (Message, error) {
	body, err := json.Marshal(struct {
		AuctionID  int64           `json:"auction_id"`
		Type       string          `json:"type"`
		Data       json.RawMessage `json:"data"`
		EventID    int64           `json:"event_id"`
		ServerTime time.Time       `json:"server_time"`
	}{
		AuctionID:  ev.AuctionID,
		Type:       ev.Type.String(),
		Data:       ev.Data,
		EventID:    ev.EventID,
		ServerTime: ev.ServerTime,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode event %d/%d: %w", ev.AuctionID, ev.EventID, err)
	}
	return Message{
		ID:         fmt.Sprintf("%d:%d", ev.AuctionID, ev.EventID),
		RoutingKey: "auction." + ev.Type.String(),
		Type:       ev.Type.String(),
		Time:       ev.ServerTime,
		Body:       body,
	}, nil
}
