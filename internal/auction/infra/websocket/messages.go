package websocket

import (
	"encoding/json"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
)

// MessageType defines ws type message
type MessageType string

const (
	MessageTypePing   MessageType = "ping"   // client keepalive, no reply
	MessageTypeState  MessageType = "state"  // client asks for a fresh snapshot
	MessageTypeResume MessageType = "resume" // client asks for the events it missed
)

// Envelope is the frame of every server message. Only ledger events carry an
// event_id.
type Envelope struct {
	Type       domain.EventType `json:"type"`
	Data       any              `json:"data,omitempty"`
	EventID    int64            `json:"event_id,omitempty"`
	ServerTime time.Time        `json:"server_time"`
}

// ClientMessage is an inbound frame.
type ClientMessage struct {
	Type        MessageType `json:"type"`
	LastEventID *int64      `json:"last_event_id,omitempty"`
}

type HelloPayload struct {
	SessionID string `json:"session_id"`
	AuctionID int64  `json:"auction_id"`
}

type ResumePayload struct {
	State     domain.StateSnapshot `json:"state"`
	Events    []Envelope           `json:"events"`
	Truncated bool                 `json:"truncated"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:       ev.Type(),
		Data:       ev.Payload,
		EventID:    ev.ID,
		ServerTime: ev.ServerTime,
	})
}

func storedEnvelope(ev domain.StoredEvent) Envelope {
	return Envelope{
		Type:       ev.Type,
		Data:       ev.Data,
		EventID:    ev.EventID,
		ServerTime: ev.ServerTime,
	}
}

func encodeControl(t domain.EventType, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Type: t, Data: data, ServerTime: now})
}
