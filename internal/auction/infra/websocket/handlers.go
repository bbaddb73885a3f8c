package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/application"
	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/auth"
	"github.com/cristianortiz/bidengine/internal/shared/httpserver"
	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/cristianortiz/bidengine/internal/shared/websocket"
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const (
	auctionIDKey     = "auctionID"
	inboundWorkers   = 8
	inboundQueueSize = 64
)

// AuctionWSHandler serves the real-time auction stream and answers the control
// messages clients send over it.
type AuctionWSHandler struct {
	auctionService application.AuctionService
	hub            *websocket.Hub
	now            func() time.Time
}

// NewAuctionWSHandler creates a new instance of AuctionWSHandler
func NewAuctionWSHandler(auctionService application.AuctionService, hub *websocket.Hub) *AuctionWSHandler {
	return &AuctionWSHandler{
		auctionService: auctionService,
		hub:            hub,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts GET /ws/auctions/:id. Connections live until ctx is
// done or the peer leaves.
func (h *AuctionWSHandler) RegisterRoutes(ctx context.Context, app *fiber.App, issuer *auth.Issuer) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if !fiberws.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	})
	app.Get("/ws/auctions/:id",
		auth.WSMiddleware(issuer),
		h.resolveAuction,
		fiberws.New(h.Serve(ctx)),
	)
}

// resolveAuction rejects the upgrade for unknown auctions.
func (h *AuctionWSHandler) resolveAuction(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return httpserver.WriteError(c, fiber.StatusBadRequest, "validation_error", "invalid auction id")
	}
	if _, err := h.auctionService.GetAuction(c.UserContext(), int64(id)); err != nil {
		if errors.Is(err, domain.ErrAuctionNotFound) {
			return httpserver.WriteError(c, fiber.StatusNotFound, "not_found", "auction not found")
		}
		log.Error("Failed to load auction for subscription", zap.Int("auctionID", id), zap.Error(err))
		return httpserver.WriteError(c, fiber.StatusInternalServerError, "internal_error", "internal error")
	}
	c.Locals(auctionIDKey, int64(id))
	return c.Next()
}

// Serve returns the connection handler. The client is registered while the
// auction is locked, right after its hello and state frames are queued, so
// it sees every later event exactly once and in order.
func (h *AuctionWSHandler) Serve(ctx context.Context) func(*fiberws.Conn) {
	return func(conn *fiberws.Conn) {
		auctionID, _ := conn.Locals(auctionIDKey).(int64)
		p, _ := conn.Locals(auth.PrincipalKey).(auth.Principal)
		client := h.hub.NewClient(conn, Topic(auctionID), p.UserID)

		err := h.auctionService.Subscribe(ctx, auctionID, func(s domain.StateSnapshot) {
			h.hub.RegisterClient(client)
			h.send(client, domain.EventHello, HelloPayload{SessionID: client.ID, AuctionID: auctionID})
			h.send(client, domain.EventState, s)
		})
		if err != nil {
			log.Error("Failed to subscribe client",
				zap.Int64("auctionID", auctionID),
				zap.String("clientID", client.ID),
				zap.Error(err),
			)
			h.hub.UnregisterClient(client)
			_ = conn.Close()
			return
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			client.WritePump(ctx)
		}()
		client.ReadPump(ctx)
		<-done
	}
}

// ListenForMessages consumes the hub inbound channel until ctx is done.
// Messages of one client always land on the same worker, so they are answered
// in the order they were sent.
func (h *AuctionWSHandler) ListenForMessages(ctx context.Context) {
	log.Info("AuctionWSHandler started listening for inbound messages from hub")
	workers := make([]chan *websocket.ClientMessage, inboundWorkers)
	for i := range workers {
		workers[i] = make(chan *websocket.ClientMessage, inboundQueueSize)
		go h.work(ctx, workers[i])
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("AuctionWSHandler stopped listening for inbound messages from hub")
			return
		case msg := <-h.hub.InboundMessages:
			select {
			case workers[shard(msg.Client.ID, len(workers))] <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *AuctionWSHandler) work(ctx context.Context, queue <-chan *websocket.ClientMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-queue:
			h.processMessage(ctx, msg.Client, msg.Data)
		}
	}
}

func shard(clientID string, n int) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(clientID))
	return int(f.Sum32() % uint32(n))
}

// processMessage dispatches the message by its type
func (h *AuctionWSHandler) processMessage(ctx context.Context, client *websocket.Client, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(client, "validation_error", "invalid message format")
		return
	}
	auctionID, err := parseTopic(client.Topic)
	if err != nil {
		h.sendError(client, "internal_error", "unknown subscription")
		return
	}

	switch msg.Type {
	case MessageTypePing:
	case MessageTypeState:
		h.handleState(ctx, client, auctionID)
	case MessageTypeResume:
		h.handleResume(ctx, client, auctionID, msg.LastEventID)
	default:
		h.sendError(client, "validation_error", "unknown message type")
	}
}

func (h *AuctionWSHandler) handleState(ctx context.Context, client *websocket.Client, auctionID int64) {
	err := h.auctionService.Subscribe(ctx, auctionID, func(s domain.StateSnapshot) {
		h.send(client, domain.EventState, s)
	})
	if err != nil {
		log.Error("Failed to load state", zap.Int64("auctionID", auctionID), zap.Error(err))
		h.sendError(client, "internal_error", "failed to load state")
	}
}

func (h *AuctionWSHandler) handleResume(ctx context.Context, client *websocket.Client, auctionID int64, lastEventID *int64) {
	if lastEventID == nil {
		h.sendError(client, "validation_error", "last_event_id is required")
		return
	}
	err := h.auctionService.Resume(ctx, auctionID, *lastEventID, func(res application.ResumeResult) {
		payload := ResumePayload{
			State:     res.Snapshot,
			Events:    make([]Envelope, 0, len(res.Events)),
			Truncated: res.Truncated,
		}
		for _, ev := range res.Events {
			payload.Events = append(payload.Events, storedEnvelope(ev))
		}
		h.send(client, domain.EventResumeOK, payload)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidQuery) {
			h.sendError(client, "validation_error", "last_event_id must not be negative")
			return
		}
		log.Error("Failed to resume", zap.Int64("auctionID", auctionID), zap.Error(err))
		h.sendError(client, "internal_error", "failed to resume")
	}
}

func (h *AuctionWSHandler) send(client *websocket.Client, t domain.EventType, data any) {
	msg, err := encodeControl(t, data, h.now())
	if err != nil {
		log.Error("Failed to marshal message", zap.String("type", t.String()), zap.Error(err))
		return
	}
	if !h.hub.Send(client, msg) {
		log.Debug("Client gone, message dropped", zap.String("clientID", client.ID), zap.String("type", t.String()))
	}
}

// sendError serializes and sends an error msg to a specific client
func (h *AuctionWSHandler) sendError(client *websocket.Client, code, message string) {
	h.send(client, domain.EventError, ErrorPayload{Code: code, Message: message})
}
