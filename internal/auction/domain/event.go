package domain

import (
	"encoding/json"
	"time"
)

// EventType names a real-time message type.
type EventType string

const (
	EventHello        EventType = "hello"
	EventState        EventType = "state"
	EventBidAccepted  EventType = "bid_accepted"
	EventPriceChanged EventType = "price_changed"
	EventExtended     EventType = "extended"
	EventClosed       EventType = "closed"
	EventReserveMet   EventType = "reserve_met"
	EventOutbid       EventType = "outbid"
	EventBuyItNow     EventType = "buy_it_now"
	EventLeaderboard  EventType = "leaderboard"
	EventError        EventType = "error"
	EventResumeOK     EventType = "resume_ok"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// EventPayload is the closed set of ledger payloads. The unexported method keeps
// implementations inside this package so type switches over it stay exhaustive.
type EventPayload interface {
	Type() EventType
	ledgerEvent()
}

// Event is a committed ledger entry; ID strictly increases per auction.
type Event struct {
	ID         int64
	AuctionID  int64
	ServerTime time.Time
	Payload    EventPayload
}

// Type returns the payload type.
func (e Event) Type() EventType {
	return e.Payload.Type()
}

// BidAccepted announces an accepted bid. Bid is a pointer because the store assigns
// its ID during the same commit that persists the event. Sealed bids are announced
// without amounts.
type BidAccepted struct {
	Bid          *Bid
	BidderAlias  string
	CurrentPrice int64
	ReserveMet   bool
	Sealed       bool
}

func (BidAccepted) Type() EventType { return EventBidAccepted }
func (BidAccepted) ledgerEvent()    {}

func (p BidAccepted) MarshalJSON() ([]byte, error) {
	out := struct {
		BidID        int64     `json:"bid_id"`
		BidderAlias  string    `json:"bidder_alias,omitempty"`
		Amount       *int64    `json:"amount,omitempty"`
		IsProxy      bool      `json:"is_proxy"`
		CurrentPrice *int64    `json:"current_price,omitempty"`
		ReserveMet   bool      `json:"reserve_met"`
		CreatedAt    time.Time `json:"created_at"`
	}{
		BidID:      p.Bid.ID,
		IsProxy:    p.Bid.Kind == BidKindAuto,
		ReserveMet: p.ReserveMet,
		CreatedAt:  p.Bid.CreatedAt,
	}
	if !p.Sealed {
		out.BidderAlias = p.BidderAlias
		amount, price := p.Bid.Amount, p.CurrentPrice
		out.Amount = &amount
		out.CurrentPrice = &price
	}
	return json.Marshal(out)
}

type PriceChanged struct {
	CurrentPrice  int64  `json:"current_price"`
	PreviousPrice int64  `json:"previous_price"`
	HighestBidder string `json:"highest_bidder"`
	ReserveMet    bool   `json:"reserve_met"`
}

func (PriceChanged) Type() EventType { return EventPriceChanged }
func (PriceChanged) ledgerEvent()    {}

type Extended struct {
	ExtendedUntil  time.Time `json:"extended_until"`
	ExtensionCount int       `json:"extension_count"`
}

func (Extended) Type() EventType { return EventExtended }
func (Extended) ledgerEvent()    {}

type ReserveMet struct {
	ReservePrice int64 `json:"reserve_price"`
	CurrentPrice int64 `json:"current_price"`
}

func (ReserveMet) Type() EventType { return EventReserveMet }
func (ReserveMet) ledgerEvent()    {}

// Close reasons carried by the closed event.
const (
	CloseReasonExpired   = "expired"
	CloseReasonClosed    = "closed"
	CloseReasonBuyItNow  = "buy_it_now"
	CloseReasonCancelled = "cancelled"
)

type Closed struct {
	Status         AuctionStatus `json:"status_code"`
	Reason         string        `json:"reason"`
	FinalPrice     int64         `json:"final_price"`
	Winner         string        `json:"winner,omitempty"`
	ReserveMet     bool          `json:"reserve_met"`
	ExtensionCount int           `json:"extension_count"`
}

func (Closed) Type() EventType { return EventClosed }
func (Closed) ledgerEvent()    {}

type BuyItNowPurchased struct {
	Bid         *Bid
	BidderAlias string
}

func (BuyItNowPurchased) Type() EventType { return EventBuyItNow }
func (BuyItNowPurchased) ledgerEvent()    {}

func (p BuyItNowPurchased) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BidID       int64  `json:"bid_id"`
		BidderAlias string `json:"bidder_alias"`
		Amount      int64  `json:"amount"`
	}{
		BidID:       p.Bid.ID,
		BidderAlias: p.BidderAlias,
		Amount:      p.Bid.Amount,
	})
}

// Leaderboard carries the final standings of a closed auction.
type Leaderboard struct {
	Standings
}

func (Leaderboard) Type() EventType { return EventLeaderboard }
func (Leaderboard) ledgerEvent()    {}

// Notice is a private message for one bidder's sessions. Notices are not part of
// the ledger and carry no event id.
type Notice struct {
	BidderID int64
	Payload  Outbid
}

// Outbid tells a bidder they no longer lead.
type Outbid struct {
	CurrentPrice  int64  `json:"current_price"`
	HighestBidder string `json:"highest_bidder"`
	YourMax       *int64 `json:"your_max,omitempty"`
}

// Type returns the wire type of the notice.
func (Outbid) Type() EventType { return EventOutbid }

// StoredEvent is a ledger event as read back from the store.
type StoredEvent struct {
	AuctionID  int64
	EventID    int64
	Type       EventType
	Data       json.RawMessage
	ServerTime time.Time
}

// eventLog assigns consecutive ids to events emitted while applying one command.
type eventLog struct {
	a      *Auction
	now    time.Time
	events []Event
}

func newEventLog(a *Auction, now time.Time) *eventLog {
	return &eventLog{a: a, now: now}
}

func (l *eventLog) emit(p EventPayload) int64 {
	l.a.LastEventID++
	l.events = append(l.events, Event{
		ID:         l.a.LastEventID,
		AuctionID:  l.a.ID,
		ServerTime: l.now,
		Payload:    p,
	})
	return l.a.LastEventID
}
