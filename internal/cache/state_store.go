package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"mining-api/internal/models"
)

// StateStore holds the per-user state that must survive restarts but is not
// part of the durable ledger: pending earnings, activity timestamps and the
// offline mining preference
type StateStore interface {
	// StagePending adds amount to the user's pending bucket for kind
	StagePending(ctx context.Context, userID string, kind models.SourceKind, amount decimal.Decimal, capturedAt time.Time) error
	// DrainPending atomically returns and clears everything pending for the
	// user. A CorruptPendingError comes with the fields that did decode.
	DrainPending(ctx context.Context, userID string) (models.PendingEarnings, error)
	PeekPending(ctx context.Context, userID string) (models.PendingEarnings, error)
	// PendingUsers lists users that currently have earnings staged or
	// transaction records waiting to be written
	PendingUsers(ctx context.Context) ([]string, error)

	// DeferTransaction keeps a record the transaction log refused, keyed by
	// its idempotency key, until RemoveTransaction confirms it was written
	DeferTransaction(ctx context.Context, tx *models.TransactionRecord) error
	DeferredTransactions(ctx context.Context, userID string) ([]*models.TransactionRecord, error)
	RemoveTransaction(ctx context.Context, userID, idempotencyKey string) error

	GetLastSeen(ctx context.Context, userID string) (time.Time, bool, error)
	SetLastSeen(ctx context.Context, userID string, t time.Time) error
	GetLastTick(ctx context.Context, userID string) (time.Time, bool, error)
	SetLastTick(ctx context.Context, userID string, t time.Time) error

	// GetOfflineEnabled returns the stored preference and whether one was ever stored
	GetOfflineEnabled(ctx context.Context, userID string) (enabled bool, stored bool, err error)
	SetOfflineEnabled(ctx context.Context, userID string, enabled bool) error

	Ping(ctx context.Context) error
}

// ErrCorruptPending is matched by a CorruptPendingError
var ErrCorruptPending = errors.New("corrupt pending earnings")

// CorruptPendingError reports staged fields that could not be decoded. The
// pending value returned with it holds every field that did decode.
type CorruptPendingError struct {
	UserID string
	Fields map[string]string
}

func (e *CorruptPendingError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, val := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s=%q", field, val))
	}
	sort.Strings(parts)
	return fmt.Sprintf("corrupt pending earnings for user %s: %s", e.UserID, strings.Join(parts, ", "))
}

func (e *CorruptPendingError) Is(target error) bool {
	return target == ErrCorruptPending
}

// pendingScale is the number of decimal places kept for staged amounts
const pendingScale = 8

func toUnits(amount decimal.Decimal) int64 {
	return amount.Shift(pendingScale).IntPart()
}

func fromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -pendingScale)
}
