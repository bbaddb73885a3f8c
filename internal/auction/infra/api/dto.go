package api

import (
	"encoding/json"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/application"
	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/auth"
)

type createAuctionRequest struct {
	ListingID           int64     `json:"listing_id"`
	AuctionType         string    `json:"auction_type"`
	AllowedMinBid       int64     `json:"allowed_min_bid"`
	AllowedMaxBid       int64     `json:"allowed_max_bid"`
	MinIncrement        int64     `json:"min_increment"`
	ReservePrice        *int64    `json:"reserve_price"`
	BuyItNow            *int64    `json:"buy_it_now"`
	StartAt             time.Time `json:"start_at"`
	EndAt               time.Time `json:"end_at"`
	IsAnonymous         bool      `json:"is_anonymous"`
	SoftCloseTriggerSec *int      `json:"soft_close_trigger_sec"`
	SoftCloseExtendSec  *int      `json:"soft_close_extend_sec"`
}

func (r createAuctionRequest) command() application.CreateAuctionCommand {
	return application.CreateAuctionCommand{
		ListingID:           r.ListingID,
		Type:                domain.AuctionType(r.AuctionType),
		AllowedMinBid:       r.AllowedMinBid,
		AllowedMaxBid:       r.AllowedMaxBid,
		MinIncrement:        r.MinIncrement,
		ReservePrice:        r.ReservePrice,
		BuyItNow:            r.BuyItNow,
		StartAt:             r.StartAt,
		EndAt:               r.EndAt,
		IsAnonymous:         r.IsAnonymous,
		SoftCloseTriggerSec: r.SoftCloseTriggerSec,
		SoftCloseExtendSec:  r.SoftCloseExtendSec,
	}
}

type placeBidRequest struct {
	Amount         int64  `json:"amount"`
	ClientSeq      int64  `json:"client_seq"`
	MaxProxyAmount *int64 `json:"max_proxy_amount,omitempty"`
}

type buyNowRequest struct {
	ClientSeq int64 `json:"client_seq"`
}

type softCloseResponse struct {
	Extended      bool       `json:"extended"`
	ExtendedUntil *time.Time `json:"extended_until,omitempty"`
}

type bidResponse struct {
	Accepted     bool               `json:"accepted"`
	RejectReason string             `json:"reject_reason,omitempty"`
	ServerTime   time.Time          `json:"server_time"`
	SoftClose    *softCloseResponse `json:"soft_close,omitempty"`
	EventID      int64              `json:"event_id"`
}

func toBidResponse(o domain.BidOutcome) bidResponse {
	res := bidResponse{
		Accepted:     o.Accepted,
		RejectReason: o.RejectReason,
		ServerTime:   o.ServerTime,
		EventID:      o.EventID,
	}
	if o.Accepted {
		res.SoftClose = &softCloseResponse{Extended: o.SoftCloseExtended, ExtendedUntil: o.ExtendedUntil}
	}
	return res
}

// auctionResponse is the public auction resource. Fields a viewer may not see
// are left out.
type auctionResponse struct {
	AuctionID           int64      `json:"auction_id"`
	ListingID           int64      `json:"listing_id"`
	SellerID            int64      `json:"seller_id"`
	AuctionType         string     `json:"auction_type"`
	StatusCode          string     `json:"status_code"`
	AllowedMinBid       int64      `json:"allowed_min_bid"`
	AllowedMaxBid       int64      `json:"allowed_max_bid"`
	StartAt             time.Time  `json:"start_at"`
	EndAt               time.Time  `json:"end_at"`
	ExtendedUntil       *time.Time `json:"extended_until,omitempty"`
	ExtensionCount      int        `json:"extension_count"`
	IsAnonymous         bool       `json:"is_anonymous"`
	SoftCloseTriggerSec int        `json:"soft_close_trigger_sec"`
	SoftCloseExtendSec  int        `json:"soft_close_extend_sec"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ReservePrice        *int64     `json:"reserve_price,omitempty"`
	MinIncrement        int64      `json:"min_increment,omitempty"`
	BuyItNow            *int64     `json:"buy_it_now,omitempty"`
	CurrentPrice        *int64     `json:"current_price,omitempty"`
	HighestBidderID     *int64     `json:"highest_bidder_id,omitempty"`
	HighestBidder       string     `json:"highest_bidder,omitempty"`
	ReserveMet          bool       `json:"reserve_met"`
	LastEventID         int64      `json:"last_event_id"`
}

func toAuctionResponse(a *domain.Auction, viewer *auth.Principal) auctionResponse {
	owner := viewer != nil && (viewer.IsAdmin() || viewer.UserID == a.SellerID)
	snap := a.Snapshot()
	res := auctionResponse{
		AuctionID:           a.ID,
		ListingID:           a.ListingID,
		SellerID:            a.SellerID,
		AuctionType:         string(a.Type),
		StatusCode:          string(a.Status),
		AllowedMinBid:       a.AllowedMinBid,
		AllowedMaxBid:       a.AllowedMaxBid,
		StartAt:             a.StartAt,
		EndAt:               a.EndAt,
		ExtendedUntil:       a.ExtendedUntil,
		ExtensionCount:      a.ExtensionCount,
		IsAnonymous:         a.IsAnonymous,
		SoftCloseTriggerSec: a.SoftCloseTriggerSec,
		SoftCloseExtendSec:  a.SoftCloseExtendSec,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
		MinIncrement:        a.MinIncrement,
		BuyItNow:            a.BuyItNow,
		HighestBidder:       snap.HighestBidder,
		ReserveMet:          a.ReserveMet,
		LastEventID:         a.LastEventID,
	}
	if owner {
		res.ReservePrice = a.ReservePrice
	}
	sealed := a.Type == domain.TypeSealed && !a.IsTerminal()
	if !sealed {
		price := a.CurrentPrice
		res.CurrentPrice = &price
		if a.HighestBidderID != nil && (!a.IsAnonymous || owner) {
			id := *a.HighestBidderID
			res.HighestBidderID = &id
		}
	}
	return res
}

type bidView struct {
	BidID          int64     `json:"bid_id"`
	AuctionID      int64     `json:"auction_id"`
	BidderID       int64     `json:"bidder_id"`
	Amount         int64     `json:"amount"`
	ClientSeq      int64     `json:"client_seq"`
	Kind           string    `json:"kind"`
	Accepted       bool      `json:"accepted"`
	RejectReason   string    `json:"reject_reason,omitempty"`
	MaxProxyAmount *int64    `json:"max_proxy_amount,omitempty"`
	IsWinning      bool      `json:"is_winning"`
	CreatedAt      time.Time `json:"created_at"`
}

func toBidViews(bids []application.BidView) []bidView {
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{
			BidID:          b.ID,
			AuctionID:      b.AuctionID,
			BidderID:       b.BidderID,
			Amount:         b.Amount,
			ClientSeq:      b.ClientSeq,
			Kind:           string(b.Kind),
			Accepted:       b.Accepted,
			RejectReason:   b.RejectReason,
			MaxProxyAmount: b.MaxProxyAmount,
			IsWinning:      b.IsWinning,
			CreatedAt:      b.CreatedAt,
		})
	}
	return out
}

type listResponse struct {
	Items         []auctionResponse `json:"items"`
	NextPageToken string            `json:"next_page_token"`
}

type statsResponse struct {
	TotalAuctions  int64 `json:"total_auctions"`
	ActiveAuctions int64 `json:"active_auctions"`
	TotalBids      int64 `json:"total_bids"`
	// rendered as a JSON number with two decimals
	AvgBidAmount json.Number `json:"avg_bid_amount"`
}

type wsTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// envelope wraps single resources as {"data": ...}.
type envelope struct {
	Data any `json:"data"`
}
