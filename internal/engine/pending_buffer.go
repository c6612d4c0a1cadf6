package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"mining-api/internal/cache"
	"mining-api/internal/models"
)

// PendingBuffer holds earnings that the ledger has not confirmed yet. A
// drained amount is owned by the caller until it is either confirmed or
// handed back with Restage.
type PendingBuffer struct {
	store cache.StateStore
	clock Clock
}

func NewPendingBuffer(store cache.StateStore, clock Clock) *PendingBuffer {
	return &PendingBuffer{store: store, clock: clock}
}

func (b *PendingBuffer) Stage(ctx context.Context, userID string, kind models.SourceKind, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.IsZero() {
		return nil
	}
	return b.store.StagePending(ctx, userID, kind, amount, b.clock.Now())
}

func (b *PendingBuffer) Drain(ctx context.Context, userID string) (models.PendingEarnings, error) {
	return b.store.DrainPending(ctx, userID)
}

func (b *PendingBuffer) Peek(ctx context.Context, userID string) (models.PendingEarnings, error) {
	return b.store.PeekPending(ctx, userID)
}

// Restage puts a drained amount back, keeping its original capture time
func (b *PendingBuffer) Restage(ctx context.Context, pending models.PendingEarnings) error {
	for _, kind := range []models.SourceKind{models.SourceLive, models.SourceOffline} {
		amount := pending.Amount(kind)
		if amount.IsZero() {
			continue
		}
		capturedAt := pending.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = b.clock.Now()
		}
		if err := b.store.StagePending(ctx, pending.UserID, kind, amount, capturedAt); err != nil {
			return fmt.Errorf("failed to restage %s %s: %w", amount, kind, err)
		}
	}
	return nil
}

// Defer keeps a transaction record the log could not take for a later flush
func (b *PendingBuffer) Defer(ctx context.Context, tx *models.TransactionRecord) error {
	return b.store.DeferTransaction(ctx, tx)
}

func (b *PendingBuffer) Deferred(ctx context.Context, userID string) ([]*models.TransactionRecord, error) {
	return b.store.DeferredTransactions(ctx, userID)
}

func (b *PendingBuffer) Written(ctx context.Context, tx *models.TransactionRecord) error {
	return b.store.RemoveTransaction(ctx, tx.UserID, tx.IdempotencyKey)
}

func (b *PendingBuffer) Users(ctx context.Context) ([]string, error) {
	return b.store.PendingUsers(ctx)
}
