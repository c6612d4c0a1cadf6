package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateKeyLayout is the UTC calendar date format of daily entries
const DateKeyLayout = "2006-01-02"

// DailyEarningsEntry is the running total of confirmed accruals of one user
// on one UTC calendar day
type DailyEarningsEntry struct {
	UserID      string          `json:"user_id"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	LastUpdated time.Time       `json:"last_updated"`
}

// DateKey returns the UTC date key for t
func DateKey(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}
