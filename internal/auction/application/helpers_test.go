package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/auction/infra/repository/memory"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var seller = domain.Actor{UserID: 1}

func ptr(v int64) *int64 { return &v }
func intPtr(v int) *int  { return &v }

// recorder is a Broadcaster that keeps everything it is given.
type recorder struct {
	mu      sync.Mutex
	events  []domain.Event
	notices []domain.Notice
	states  []domain.StateSnapshot
}

func (r *recorder) Publish(_ int64, events []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) Notify(_ int64, notices []domain.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notices...)
}

func (r *recorder) PublishState(_ int64, s domain.StateSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *recorder) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.ID)
	}
	return out
}

func (r *recorder) count(t domain.EventType) int {
	n := 0
	for _, typ := range r.types() {
		if typ == t {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events, r.notices, r.states = nil, nil, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	engine *Engine
	store  *memory.Store
	bus    *recorder
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithMemory(t, Options{})
}

func newFixtureWithMemory(t *testing.T, opts Options) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewStore(), opts)
}

func newFixtureWith(t *testing.T, store domain.Store, opts Options) *fixture {
	t.Helper()
	clk := &clock{t: testNow}
	bus := &recorder{}
	opts.Now = clk.Now
	mem, _ := store.(*memory.Store)
	return &fixture{
		engine: NewEngine(store, bus, opts),
		store:  mem,
		bus:    bus,
		clock:  clk,
	}
}

// openAuction creates and activates an english auction: min 10000, increment 500,
// ending in one hour with soft close disabled unless cmd says otherwise.
func (f *fixture) openAuction(t *testing.T, mutate ...func(*CreateAuctionCommand)) int64 {
	t.Helper()
	cmd := CreateAuctionCommand{
		ListingID:           7,
		Type:                domain.TypeEnglish,
		AllowedMinBid:       10000,
		MinIncrement:        500,
		StartAt:             testNow.Add(-time.Hour),
		EndAt:               testNow.Add(time.Hour),
		SoftCloseTriggerSec: intPtr(0),
		SoftCloseExtendSec:  intPtr(0),
	}
	for _, m := range mutate {
		m(&cmd)
	}
	ctx := context.Background()
	a, err := f.engine.CreateAuction(ctx, seller, cmd)
	require.NoError(t, err)
	_, err = f.engine.ActivateAuction(ctx, seller, a.ID)
	require.NoError(t, err)
	f.bus.reset()
	return a.ID
}

func (f *fixture) bid(t *testing.T, auctionID, bidderID, amount, seq int64) domain.BidOutcome {
	t.Helper()
	out, err := f.engine.PlaceBid(context.Background(), auctionID, domain.BidSubmission{
		BidderID:  bidderID,
		Amount:    amount,
		ClientSeq: seq,
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) auction(t *testing.T, id int64) *domain.Auction {
	t.Helper()
	a, err := f.engine.GetAuction(context.Background(), id)
	require.NoError(t, err)
	return a
}

var errCommit = errors.New("disk on fire")

// failingStore refuses every commit.
type failingStore struct {
	*memory.Store
}

func (failingStore) Commit(context.Context, *domain.Commit) error { return errCommit }
