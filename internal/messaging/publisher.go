package messaging

import (
	"context"
	"time"
)

// Routing keys of the mining events exchange
const (
	RoutingBalanceCredited    = "balance.credited"
	RoutingBalanceClamped     = "balance.clamped"
	RoutingReferralAttributed = "referral.attributed"
)

// BalanceEvent is published after a balance write has been confirmed
type BalanceEvent struct {
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	UserID         string            `json:"user_id"`
	Amount         string            `json:"amount"`
	Credited       string            `json:"credited"`
	TotalBalance   string            `json:"total_balance"`
	Currency       string            `json:"currency"`
	Clamped        bool              `json:"clamped"`
	TransactionIDs []string          `json:"transaction_ids,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Publisher emits balance events to downstream consumers. Publishing is best
// effort: a confirmed credit is never undone because an event was lost.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event *BalanceEvent) error
	Ping(ctx context.Context) error
	Close() error
}

type noopPublisher struct{}

// NewNoopPublisher returns a Publisher that drops every event
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, string, *BalanceEvent) error { return nil }
func (noopPublisher) Ping(context.Context) error                          { return nil }
func (noopPublisher) Close() error                                        { return nil }
