package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrInvalidAuction      = errors.New("invalid auction")
	ErrInvalidBid          = errors.New("invalid bid request")
	ErrInvalidTransition   = errors.New("invalid auction state transition")
	ErrNotAuctionOwner     = errors.New("only the seller can manage this auction")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrMissingIdempotency  = errors.New("Idempotency-Key header is required")
	ErrInvalidQuery        = errors.New("invalid query")
)

// Reject reasons are stable machine readable strings returned to the bidder.
const (
	RejectAuctionNotActive    = "auction_not_active"
	RejectAmountOutOfRange    = "amount_out_of_range"
	RejectInvalidProxyAmount  = "invalid_proxy_amount"
	RejectSellerCannotBid     = "seller_cannot_bid"
	RejectBuyItNowUnavailable = "buy_it_now_unavailable"
)

func invalidAuction(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidAuction, msg)
}

func invalidTransition(from AuctionStatus, to AuctionStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
