package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

const defaultResumeMaxRows = 500

// Broadcaster delivers committed changes to real-time subscribers. Calls are made
// while the auction lock is held, so implementations must not block.
type Broadcaster interface {
	Publish(auctionID int64, events []domain.Event)
	Notify(auctionID int64, notices []domain.Notice)
	PublishState(auctionID int64, s domain.StateSnapshot)
}

// Options tunes the engine.
type Options struct {
	// soft-close defaults for auctions created without explicit settings
	SoftCloseTriggerSec int
	SoftCloseExtendSec  int
	// upper bound of ledger events replayed by Resume
	ResumeMaxRows int
	Now           func() time.Time
}

// Engine serializes every mutating operation per auction: lock, load, resolve,
// commit, broadcast, unlock. Different auctions proceed in parallel.
type Engine struct {
	store domain.Store
	bus   Broadcaster
	locks *lockRegistry
	opts  Options
	now   func() time.Time
}

// NewEngine creates an engine over store publishing through bus.
func NewEngine(store domain.Store, bus Broadcaster, opts Options) *Engine {
	if opts.ResumeMaxRows <= 0 {
		opts.ResumeMaxRows = defaultResumeMaxRows
	}
	now := opts.Now
	if now == nil {
		// postgres keeps microseconds, keep replays identical across stores
		now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &Engine{
		store: store,
		bus:   bus,
		locks: newLockRegistry(),
		opts:  opts,
		now:   now,
	}
}

// withAuction runs fn with the auction loaded under its lock. State is always
// read from the store so a failed commit leaves nothing behind in memory.
func (e *Engine) withAuction(ctx context.Context, auctionID int64, fn func(a *domain.Auction) error) error {
	unlock := e.locks.acquire(auctionID)
	defer unlock()

	a, err := e.store.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}
	return fn(a)
}

// apply commits c and broadcasts it. Must be called under the auction lock.
func (e *Engine) apply(ctx context.Context, c *domain.Commit) error {
	if c == nil || c.Empty() {
		return nil
	}
	if err := e.store.Commit(ctx, c); err != nil {
		log.Error("Engine: Failed to commit auction changes",
			zap.Int64("auctionID", c.Auction.ID),
			zap.Int("bids", len(c.Bids)),
			zap.Int("events", len(c.Events)),
			zap.Error(err),
		)
		return fmt.Errorf("commit auction %d: %w", c.Auction.ID, err)
	}

	if len(c.Events) > 0 {
		e.bus.Publish(c.Auction.ID, c.Events)
	}
	if len(c.Notices) > 0 {
		e.bus.Notify(c.Auction.ID, c.Notices)
	}
	if c.Refresh {
		e.bus.PublishState(c.Auction.ID, c.Auction.Snapshot())
	}
	return nil
}

// closeDue ends an open auction whose effective end has passed. It is a no-op for
// any other auction.
func (e *Engine) closeDue(ctx context.Context, a *domain.Auction, now time.Time) (bool, error) {
	if !a.IsDue(now) {
		return false, nil
	}
	bids, err := e.store.ListBids(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("list bids of auction %d: %w", a.ID, err)
	}
	c, err := domain.Close(a, domain.CloseReasonExpired, bids, now)
	if err != nil {
		return false, err
	}
	if err := e.apply(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

// lockRegistry hands out one mutex per auction and forgets it once nobody holds
// or waits for it.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[int64]*auctionLock
}

type auctionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[int64]*auctionLock)}
}

func (r *lockRegistry) acquire(auctionID int64) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[auctionID]
	if !ok {
		l = &auctionLock{}
		r.locks[auctionID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, auctionID)
		}
		r.mu.Unlock()
	}
}

func (r *lockRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
