package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr(v int64) *int64 { return &v }

// activeAuction returns an open english auction ending in one hour, with soft
// close disabled unless the test sets it.
func activeAuction(t *testing.T, mutate ...func(*NewAuctionParams)) *Auction {
	t.Helper()
	p := NewAuctionParams{
		ListingID:     7,
		SellerID:      1,
		Type:          TypeEnglish,
		AllowedMinBid: 10000,
		MinIncrement:  500,
		StartAt:       testNow.Add(-time.Hour),
		EndAt:         testNow.Add(time.Hour),
	}
	for _, m := range mutate {
		m(&p)
	}
	a, err := NewAuction(p, testNow)
	require.NoError(t, err)
	a.ID = 42
	_, err = Activate(a, testNow)
	require.NoError(t, err)
	return a
}

// accept places a bid that must be accepted and assigns ledger ids the way the
// store would.
func accept(t *testing.T, a *Auction, sub BidSubmission, now time.Time, ledger *[]*Bid) *Commit {
	t.Helper()
	c, bid := PlaceBid(a, sub, now)
	require.True(t, bid.Accepted, "bid rejected: %s", bid.RejectReason)
	assignIDs(c, ledger)
	return c
}

func assignIDs(c *Commit, ledger *[]*Bid) {
	for _, b := range c.Bids {
		b.ID = int64(len(*ledger) + 1)
		*ledger = append(*ledger, b)
	}
	if c.WinningBid != nil {
		id := c.WinningBid.ID
		c.Auction.WinningBidID = &id
	}
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type())
	}
	return types
}
