// Package memory is an in-process implementation of domain.Store, used for local
// runs without Postgres and by the engine tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cristianortiz/bidengine/internal/auction/domain"
)

type bidderSeq struct {
	auctionID int64
	bidderID  int64
	clientSeq int64
}

// Store keeps every row in maps guarded by one mutex. Values are copied on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu          sync.RWMutex
	auctions    map[int64]*domain.Auction
	bids        map[int64][]*domain.Bid
	accepted    map[bidderSeq]*domain.Bid
	events      map[int64][]domain.StoredEvent
	idempotency map[string]*domain.IdempotencyRecord
	nextAuction int64
	nextBid     int64
}

var _ domain.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		auctions:    make(map[int64]*domain.Auction),
		bids:        make(map[int64][]*domain.Bid),
		accepted:    make(map[bidderSeq]*domain.Bid),
		events:      make(map[int64][]domain.StoredEvent),
		idempotency: make(map[string]*domain.IdempotencyRecord),
	}
}

func (s *Store) Create(_ context.Context, a *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuction++
	a.ID = s.nextAuction
	s.auctions[a.ID] = copyAuction(a)
	return nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrAuctionNotFound, id)
	}
	return copyAuction(a), nil
}

func (s *Store) List(_ context.Context, f domain.ListFilter) ([]*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.auctions))
	for id, a := range s.auctions {
		if id <= f.AfterID || (f.Status != "" && a.Status != f.Status) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if f.Limit > 0 && len(ids) > f.Limit {
		ids = ids[:f.Limit]
	}

	out := make([]*domain.Auction, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyAuction(s.auctions[id]))
	}
	return out, nil
}

func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*domain.Auction, 0)
	for _, a := range s.auctions {
		if a.IsDue(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].EffectiveEnd().Equal(due[j].EffectiveEnd()) {
			return due[i].EffectiveEnd().Before(due[j].EffectiveEnd())
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]int64, 0, len(due))
	for _, a := range due {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (s *Store) Stats(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := domain.Stats{TotalAuctions: int64(len(s.auctions))}
	for id, a := range s.auctions {
		if a.IsOpen() {
			st.ActiveAuctions++
		}
		for _, b := range s.bids[id] {
			if b.Accepted {
				st.TotalBids++
				st.BidAmountSum += b.Amount
			}
		}
	}
	return st, nil
}

func (s *Store) ListBids(_ context.Context, auctionID int64) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBids(s.bids[auctionID], func(*domain.Bid) bool { return true }), nil
}

func (s *Store) ListBidderBids(_ context.Context, auctionID, bidderID int64) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBids(s.bids[auctionID], func(b *domain.Bid) bool { return b.BidderID == bidderID }), nil
}

func (s *Store) FindAccepted(_ context.Context, auctionID, bidderID, clientSeq int64) (*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.accepted[bidderSeq{auctionID, bidderID, clientSeq}]
	if !ok {
		return nil, nil
	}
	return copyBid(b), nil
}

func (s *Store) ListEventsAfter(_ context.Context, auctionID, afterID int64, limit int) ([]domain.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StoredEvent, 0)
	for _, ev := range s.events[auctionID] {
		if ev.EventID <= afterID {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Store) GetIdempotency(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Commit applies c all at once. Every check runs before anything is written.
func (s *Store) Commit(_ context.Context, c *domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := c.Auction
	if _, ok := s.auctions[a.ID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrAuctionNotFound, a.ID)
	}
	if c.Idempotency != nil {
		if _, ok := s.idempotency[c.Idempotency.Key]; ok {
			return fmt.Errorf("%w: key already used", domain.ErrIdempotencyConflict)
		}
	}
	for _, b := range c.Bids {
		if b.Accepted && b.Kind == domain.BidKindManual {
			if _, ok := s.accepted[bidderSeq{b.AuctionID, b.BidderID, b.ClientSeq}]; ok {
				return fmt.Errorf("%w: client_seq %d", domain.ErrIdempotencyConflict, b.ClientSeq)
			}
		}
	}

	// ids first: event payloads reference the bids
	for i, b := range c.Bids {
		b.ID = s.nextBid + int64(i) + 1
	}
	events := make([]domain.StoredEvent, 0, len(c.Events))
	for _, ev := range c.Events {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			for _, b := range c.Bids {
				b.ID = 0
			}
			return fmt.Errorf("encode %s event: %w", ev.Type(), err)
		}
		events = append(events, domain.StoredEvent{
			AuctionID:  ev.AuctionID,
			EventID:    ev.ID,
			Type:       ev.Type(),
			Data:       data,
			ServerTime: ev.ServerTime,
		})
	}

	s.nextBid += int64(len(c.Bids))
	for _, b := range c.Bids {
		stored := copyBid(b)
		s.bids[a.ID] = append(s.bids[a.ID], stored)
		if b.Accepted && b.Kind == domain.BidKindManual {
			s.accepted[bidderSeq{b.AuctionID, b.BidderID, b.ClientSeq}] = stored
		}
	}
	if c.WinningBid != nil {
		id := c.WinningBid.ID
		a.WinningBidID = &id
	}
	s.auctions[a.ID] = copyAuction(a)
	s.events[a.ID] = append(s.events[a.ID], events...)
	if c.Idempotency != nil {
		rec := *c.Idempotency
		s.idempotency[rec.Key] = &rec
	}
	return nil
}

func copyAuction(a *domain.Auction) *domain.Auction {
	cp := *a
	cp.ReservePrice = copyInt(a.ReservePrice)
	cp.BuyItNow = copyInt(a.BuyItNow)
	cp.HighestBidderID = copyInt(a.HighestBidderID)
	cp.WinningBidID = copyInt(a.WinningBidID)
	cp.LeaderProxyMax = copyInt(a.LeaderProxyMax)
	cp.ExtendedUntil = copyTime(a.ExtendedUntil)
	return &cp
}

func copyBid(b *domain.Bid) *domain.Bid {
	cp := *b
	cp.MaxProxyAmount = copyInt(b.MaxProxyAmount)
	cp.ExtendedUntil = copyTime(b.ExtendedUntil)
	return &cp
}

func copyBids(bids []*domain.Bid, keep func(*domain.Bid) bool) []*domain.Bid {
	out := make([]*domain.Bid, 0, len(bids))
	for _, b := range bids {
		if keep(b) {
			out = append(out, copyBid(b))
		}
	}
	return out
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
