package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind identifies where an unconfirmed reward came from
type SourceKind string

const (
	SourceLive    SourceKind = "live"
	SourceOffline SourceKind = "offline"
)

// Valid reports whether k is a known source kind
func (k SourceKind) Valid() bool {
	return k == SourceLive || k == SourceOffline
}

// TransactionType maps a source kind to the ledger entry type it produces
func (k SourceKind) TransactionType() string {
	if k == SourceOffline {
		return TransactionTypeOfflineMining
	}
	return TransactionTypeMining
}

// PendingEarnings is the coalesced, not yet confirmed reward of one user
type PendingEarnings struct {
	UserID     string          `json:"user_id"`
	Live       decimal.Decimal `json:"live"`
	Offline    decimal.Decimal `json:"offline"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Total returns live + offline
func (p PendingEarnings) Total() decimal.Decimal {
	return p.Live.Add(p.Offline)
}

// IsZero reports whether nothing is pending
func (p PendingEarnings) IsZero() bool {
	return p.Total().IsZero()
}

// Amount returns the pending amount of a single source kind
func (p PendingEarnings) Amount(kind SourceKind) decimal.Decimal {
	if kind == SourceOffline {
		return p.Offline
	}
	return p.Live
}
