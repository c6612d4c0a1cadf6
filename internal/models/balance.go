package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is the durable per-user balance. The total is always derived
// from its two sub-balances and is never stored on its own.
type BalanceRecord struct {
	UserID          string          `json:"user_id"`
	MiningBalance   decimal.Decimal `json:"mining_balance"`
	ReferralBalance decimal.Decimal `json:"referral_balance"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// BalanceUpdate carries the new sub-balances written by a conditional update
type BalanceUpdate struct {
	MiningBalance   decimal.Decimal
	ReferralBalance decimal.Decimal
	LastUpdated     time.Time
}

// NewFloorBalance returns the record created for a user seen for the first time
func NewFloorBalance(userID string, floor decimal.Decimal, now time.Time) *BalanceRecord {
	return &BalanceRecord{
		UserID:          userID,
		MiningBalance:   floor,
		ReferralBalance: decimal.Zero,
		Version:         0,
		CreatedAt:       now,
		LastUpdated:     now,
	}
}

// TotalBalance returns mining + referral
func (b *BalanceRecord) TotalBalance() decimal.Decimal {
	return b.MiningBalance.Add(b.ReferralBalance)
}

// WithinBounds reports whether the total respects [min, max]
func (b *BalanceRecord) WithinBounds(min, max decimal.Decimal) bool {
	total := b.TotalBalance()
	return total.GreaterThanOrEqual(min) && total.LessThanOrEqual(max)
}

// Clone returns a copy safe to hand out of a store
func (b *BalanceRecord) Clone() *BalanceRecord {
	c := *b
	return &c
}

// BalanceView is the read model returned to the presentation layer
type BalanceView struct {
	UserID          string          `json:"user_id"`
	TotalBalance    decimal.Decimal `json:"total_balance"`
	MiningBalance   decimal.Decimal `json:"mining_balance"`
	ReferralBalance decimal.Decimal `json:"referral_balance"`
	Currency        string          `json:"currency"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// View builds the presentation read model
func (b *BalanceRecord) View(currency string) *BalanceView {
	return &BalanceView{
		UserID:          b.UserID,
		TotalBalance:    b.TotalBalance(),
		MiningBalance:   b.MiningBalance,
		ReferralBalance: b.ReferralBalance,
		Currency:        currency,
		LastUpdated:     b.LastUpdated,
	}
}
