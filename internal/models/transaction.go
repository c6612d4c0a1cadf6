package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTypeMining        = "mining"
	TransactionTypeOfflineMining = "offline-mining"
	TransactionTypeReferral      = "referral"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// TransactionRecord is an append-only ledger entry
type TransactionRecord struct {
	TransactionID  string            `json:"transaction_id"`
	UserID         string            `json:"user_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Type           string            `json:"type"`
	ExternalRef    string            `json:"external_ref,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// TransactionRequest describes a ledger entry to create
type TransactionRequest struct {
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	Type           string
	ExternalRef    string
	IdempotencyKey string
	Metadata       map[string]string
}

// NewTransaction creates a pending transaction
func NewTransaction(req *TransactionRequest, now time.Time) *TransactionRecord {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	return &TransactionRecord{
		TransactionID:  fmt.Sprintf("TXN-%d-%s", now.Unix(), uuid.New().String()[:8]),
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         TransactionStatusPending,
		Type:           req.Type,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: key,
		Metadata:       req.Metadata,
		Timestamp:      now,
	}
}

// MarkCompleted moves a pending transaction to completed
func (t *TransactionRecord) MarkCompleted() error {
	return t.transition(TransactionStatusCompleted)
}

func (t *TransactionRecord) transition(status string) error {
	if t.Status != TransactionStatusPending {
		return fmt.Errorf("transaction %s is %s and cannot become %s", t.TransactionID, t.Status, status)
	}
	t.Status = status
	return nil
}
