package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// AccrualPlaces is the number of decimal places rewards are rounded to
	AccrualPlaces = 4

	// MinOfflineGap is the shortest disconnection that earns an offline reward
	MinOfflineGap = time.Minute
)

var millisPerMinute = decimal.NewFromInt(int64(time.Minute / time.Millisecond))

// Accrue returns (elapsed in ms / 60000) * ratePerMinute rounded half-up to
// AccrualPlaces. Negative elapsed time accrues nothing.
func Accrue(elapsed time.Duration, ratePerMinute decimal.Decimal) decimal.Decimal {
	if elapsed <= 0 || !ratePerMinute.IsPositive() {
		return decimal.Zero
	}

	millis := decimal.NewFromInt(elapsed.Milliseconds())
	return ratePerMinute.Mul(millis).Div(millisPerMinute).Round(AccrualPlaces)
}

// AccrueOffline is Accrue for catch-up rewards: gaps shorter than
// MinOfflineGap are discarded so rapid reconnects earn nothing
func AccrueOffline(gap time.Duration, ratePerMinute decimal.Decimal) decimal.Decimal {
	if gap < MinOfflineGap {
		return decimal.Zero
	}
	return Accrue(gap, ratePerMinute)
}
