package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func softCloseAuction(t *testing.T, endIn time.Duration, trigger, extend int) *Auction {
	return activeAuction(t, func(p *NewAuctionParams) {
		p.EndAt = testNow.Add(endIn)
		p.SoftCloseTriggerSec = trigger
		p.SoftCloseExtendSec = extend
	})
}

func TestSoftCloseExtendsInsideWindow(t *testing.T) {
	a := softCloseAuction(t, 100*time.Second, 180, 180)
	var ledger []*Bid

	c := accept(t, a, BidSubmission{BidderID: 2, Amount: 10000, ClientSeq: 1}, testNow, &ledger)

	assert.Equal(t, []EventType{EventBidAccepted, EventPriceChanged, EventExtended}, eventTypes(c.Events))
	assert.Equal(t, StatusExtended, a.Status)
	assert.Equal(t, 1, a.ExtensionCount)
	require.NotNil(t, a.ExtendedUntil)
	assert.Equal(t, testNow.Add(180*time.Second), *a.ExtendedUntil)

	bid := ledger[0]
	assert.True(t, bid.SoftCloseExtended)
	assert.Equal(t, testNow.Add(180*time.Second), *bid.ExtendedUntil)

	// a second late bid extends again from its own arrival time
	later := testNow.Add(150 * time.Second)
	accept(t, a, BidSubmission{BidderID: 3, Amount: 10500, ClientSeq: 1}, later, &ledger)
	assert.Equal(t, 2, a.ExtensionCount)
	assert.Equal(t, later.Add(180*time.Second), a.EffectiveEnd())
}

func TestSoftCloseOutsideWindow(t *testing.T) {
	a := softCloseAuction(t, time.Hour, 180, 180)
	var ledger []*Bid

	c := accept(t, a, BidSubmission{BidderID: 2, Amount: 10000, ClientSeq: 1}, testNow, &ledger)
	assert.NotContains(t, eventTypes(c.Events), EventExtended)
	assert.Equal(t, StatusActive, a.Status)
	assert.Nil(t, a.ExtendedUntil)
	assert.False(t, ledger[0].SoftCloseExtended)
}

func TestSoftCloseBoundaryIsInclusive(t *testing.T) {
	a := softCloseAuction(t, 180*time.Second, 180, 300)
	var ledger []*Bid

	accept(t, a, BidSubmission{BidderID: 2, Amount: 10000, ClientSeq: 1}, testNow, &ledger)
	assert.Equal(t, 1, a.ExtensionCount)
}

func TestSoftCloseNeverShortens(t *testing.T) {
	a := softCloseAuction(t, 300*time.Second, 600, 60)
	var ledger []*Bid

	accept(t, a, BidSubmission{BidderID: 2, Amount: 10000, ClientSeq: 1}, testNow, &ledger)
	assert.Equal(t, 0, a.ExtensionCount)
	assert.Equal(t, testNow.Add(300*time.Second), a.EffectiveEnd())
}

func TestSoftCloseDisabled(t *testing.T) {
	for _, cfg := range [][2]int{{0, 180}, {180, 0}} {
		a := softCloseAuction(t, 10*time.Second, cfg[0], cfg[1])
		var ledger []*Bid
		accept(t, a, BidSubmission{BidderID: 2, Amount: 10000, ClientSeq: 1}, testNow, &ledger)
		assert.Equal(t, 0, a.ExtensionCount)
		assert.Equal(t, StatusActive, a.Status)
	}
}

func TestRejectedBidNeverExtends(t *testing.T) {
	a := softCloseAuction(t, 10*time.Second, 180, 180)
	_, bid := PlaceBid(a, BidSubmission{BidderID: 2, Amount: 1, ClientSeq: 1}, testNow)
	assert.False(t, bid.Accepted)
	assert.Equal(t, 0, a.ExtensionCount)
}
