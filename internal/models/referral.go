package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// ReferralStatusPending marks a referral whose bonus is not confirmed yet
	ReferralStatusPending = "pending"
	ReferralStatusActive  = "active"
)

// ReferralRecord links a referrer to a user it brought in. One per referred user.
type ReferralRecord struct {
	ID             string          `json:"id"`
	ReferrerID     string          `json:"referrer_id"`
	ReferredUserID string          `json:"referred_user_id"`
	Status         string          `json:"status"`
	BonusAmount    decimal.Decimal `json:"bonus_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}
