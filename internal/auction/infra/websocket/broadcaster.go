package websocket

import (
	"strconv"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/websocket"
	"go.uber.org/zap"
)

// HubBroadcaster fans committed auction changes out to the hub. Each auction is
// one hub topic.
type HubBroadcaster struct {
	hub *websocket.Hub
	now func() time.Time
}

// NewHubBroadcaster creates a broadcaster over hub.
func NewHubBroadcaster(hub *websocket.Hub) *HubBroadcaster {
	return &HubBroadcaster{hub: hub, now: func() time.Time { return time.Now().UTC() }}
}

// Publish sends every event to all subscribers of the auction, in order.
func (b *HubBroadcaster) Publish(auctionID int64, events []domain.Event) {
	topic := Topic(auctionID)
	for _, ev := range events {
		data, err := encodeEvent(ev)
		if err != nil {
			log.Error("Failed to encode event",
				zap.Int64("auctionID", auctionID),
				zap.Int64("eventID", ev.ID),
				zap.String("type", ev.Type().String()),
				zap.Error(err),
			)
			continue
		}
		b.hub.Broadcast(topic, data)
	}
}

// Notify sends each notice to the sessions of its bidder only.
func (b *HubBroadcaster) Notify(auctionID int64, notices []domain.Notice) {
	topic := Topic(auctionID)
	for _, n := range notices {
		data, err := encodeControl(n.Payload.Type(), n.Payload, b.now())
		if err != nil {
			log.Error("Failed to encode notice", zap.Int64("auctionID", auctionID), zap.Error(err))
			continue
		}
		delivered := b.hub.SendToUser(topic, n.BidderID, data)
		log.Debug("Outbid notice sent",
			zap.Int64("auctionID", auctionID),
			zap.Int64("bidderID", n.BidderID),
			zap.Int("sessions", delivered),
		)
	}
}

// PublishState pushes a snapshot to all subscribers of the auction.
func (b *HubBroadcaster) PublishState(auctionID int64, s domain.StateSnapshot) {
	data, err := encodeControl(domain.EventState, s, b.now())
	if err != nil {
		log.Error("Failed to encode state", zap.Int64("auctionID", auctionID), zap.Error(err))
		return
	}
	b.hub.Broadcast(Topic(auctionID), data)
}

// Topic is the hub topic of an auction.
func Topic(auctionID int64) string {
	return strconv.FormatInt(auctionID, 10)
}

func parseTopic(topic string) (int64, error) {
	return strconv.ParseInt(topic, 10, 64)
}
