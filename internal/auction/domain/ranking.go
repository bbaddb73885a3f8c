package domain

import (
	"sort"
)

// Standing is one bidder's position in an auction.
type Standing struct {
	Rank        int    `json:"rank"`
	BidderAlias string `json:"alias"`
	Amount      *int64 `json:"amount,omitempty"`
	BidCount    int    `json:"bid_count"`
	IsWinner    bool   `json:"is_winner"`
}

// Standings is the ranked view of an auction's bidders.
type Standings struct {
	TopBidders        []Standing `json:"top_bidders"`
	TotalParticipants int        `json:"total_participants"`
	WinnerCount       int        `json:"winner_count"`
}

// Rank orders bidders by their highest accepted amount. Equal amounts rank by
// which was bid first. bids must be in commit order; limit <= 0 means all.
// A sealed auction that is not over only reports how many bidders took part.
func Rank(a *Auction, bids []*Bid, limit int) Standings {
	type entry struct {
		bidderID int64
		amount   int64
		position int
		count    int
	}

	best := make(map[int64]*entry)
	order := make([]*entry, 0)
	for i, b := range bids {
		if !b.Accepted {
			continue
		}
		e, ok := best[b.BidderID]
		if !ok {
			e = &entry{bidderID: b.BidderID, amount: b.Amount, position: i}
			best[b.BidderID] = e
			order = append(order, e)
		} else if b.Amount > e.amount {
			e.amount = b.Amount
			e.position = i
		}
		e.count++
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].amount != order[j].amount {
			return order[i].amount > order[j].amount
		}
		return order[i].position < order[j].position
	})

	s := Standings{
		TopBidders:        make([]Standing, 0, len(order)),
		TotalParticipants: len(order),
	}
	if a.Type == TypeSealed && !a.IsTerminal() {
		return s
	}
	if a.HasWinner() {
		s.WinnerCount = 1
	}

	for i, e := range order {
		if limit > 0 && i >= limit {
			break
		}
		amount := e.amount
		s.TopBidders = append(s.TopBidders, Standing{
			Rank:        i + 1,
			BidderAlias: Alias(a, e.bidderID),
			Amount:      &amount,
			BidCount:    e.count,
			IsWinner:    a.HasWinner() && a.IsLeader(e.bidderID),
		})
	}
	return s
}
