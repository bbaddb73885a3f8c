package domain

import (
	"time"

	"go.uber.org/zap"
)

// applySoftClose extends the auction when an accepted bid lands inside the trigger
// window. It never moves the end earlier and reports whether it extended.
func applySoftClose(a *Auction, now time.Time, el *eventLog) bool {
	if a.SoftCloseTriggerSec <= 0 || a.SoftCloseExtendSec <= 0 {
		return false
	}
	end := a.EffectiveEnd()
	if end.Sub(now) > time.Duration(a.SoftCloseTriggerSec)*time.Second {
		return false
	}
	until := now.Add(time.Duration(a.SoftCloseExtendSec) * time.Second)
	if !until.After(end) {
		return false
	}

	a.ExtendedUntil = &until
	a.ExtensionCount++
	a.Status = StatusExtended
	el.emit(Extended{ExtendedUntil: until, ExtensionCount: a.ExtensionCount})

	log.Info("Auction soft close extended",
		zap.Int64("auctionID", a.ID),
		zap.Time("previousEnd", end),
		zap.Time("extendedUntil", until),
		zap.Int("extensionCount", a.ExtensionCount),
	)
	return true
}
