package domain

// Commit is everything one command changes. The store persists it atomically; the
// engine broadcasts Events and delivers Notices only after the store succeeded.
type Commit struct {
	Auction *Auction
	// new ledger rows; the store assigns their IDs
	Bids []*Bid
	// accepted bid that leads after this commit, nil when the leader did not change
	WinningBid  *Bid
	Events      []Event
	Notices     []Notice
	Idempotency *IdempotencyRecord
	// push a fresh state snapshot to subscribers even if no event was emitted
	Refresh bool
}

// Empty reports whether the commit changes nothing.
func (c *Commit) Empty() bool {
	return len(c.Bids) == 0 && len(c.Events) == 0 && c.Idempotency == nil && !c.Refresh
}
