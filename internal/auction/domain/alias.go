package domain

import (
	"crypto/sha256"
	"fmt"
)

// Alias is the public name of a bidder in an auction. Anonymous auctions hash the
// pair so the alias is stable per auction but cannot be linked across auctions.
func Alias(a *Auction, bidderID int64) string {
	if !a.IsAnonymous {
		return fmt.Sprintf("user_%d", bidderID)
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d", a.ID, bidderID)))
	return fmt.Sprintf("Bidder %x", sum[:3])
}
