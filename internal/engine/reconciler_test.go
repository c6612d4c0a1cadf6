package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mining-api/internal/cache"
	"mining-api/internal/messaging"
	"mining-api/internal/models"
)

func TestReconcile_NothingPending(t *testing.T) {
	h := newHarness(t)

	result, err := h.engine.ReconcileNow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assertDecimal(t, "0", result.AppliedAmount)
	assert.Equal(t, 0, h.balances.updateCount())
	assert.Empty(t, h.transactions.forUser("user-1"))
}

func TestReconcile_AppliesPendingOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.stage(t, "user-1", models.SourceLive, "0.0007")
	h.stage(t, "user-1", models.SourceOffline, "19.2")

	result, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, result.NoOp)
	assert.False(t, result.Clamped)
	assert.Empty(t, result.AuditErrors)
	assertDecimal(t, "19.2007", result.AppliedAmount)
	assertDecimal(t, "19.2007", result.CreditedAmount)
	assertDecimal(t, "19.20071", result.NewBalance)
	assertDecimal(t, "19.2007", result.DailyTotal)

	balance := h.balances.get("user-1")
	require.NotNil(t, balance)
	assertDecimal(t, "19.20071", balance.MiningBalance)
	assertDecimal(t, "0", balance.ReferralBalance)

	txs := h.transactions.forUser("user-1")
	require.Len(t, txs, 2)
	types := map[string]string{}
	for _, tx := range txs {
		assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
		assert.Equal(t, "STARZ", tx.Currency)
		types[tx.Type] = tx.Amount.String()
	}
	assert.Equal(t, "0.0007", types[models.TransactionTypeMining])
	assert.Equal(t, "19.2", types[models.TransactionTypeOfflineMining])

	pending, err := h.engine.GetPending(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, pending.IsZero())

	again, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	assertDecimal(t, "19.20071", h.balances.get("user-1").MiningBalance)
}

func TestReconcile_FailureKeepsPendingAndRetryAppliesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.stage(t, "user-1", models.SourceLive, "1.5")
	h.balances.setUpdateErr(errors.New("connection reset by peer"))

	_, err := h.engine.ReconcileNow(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	assert.Equal(t, "user-1", syncErr.UserID)

	pending, err := h.engine.GetPending(ctx, "user-1")
	require.NoError(t, err)
	assertDecimal(t, "1.5", pending.Live, "failed reconciliation must keep the amount pending")
	assert.Empty(t, h.transactions.forUser("user-1"))

	h.balances.setUpdateErr(nil)

	result, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assertDecimal(t, "1.5", result.AppliedAmount)
	assertDecimal(t, "1.50001", h.balances.get("user-1").MiningBalance)
	assert.Equal(t, 1, h.balances.updateCount())
	assert.Len(t, h.transactions.forUser("user-1"), 1)

	again, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	assertDecimal(t, "1.50001", h.balances.get("user-1").MiningBalance)
}

func TestReconcile_ConflictRetries(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		expectErr bool
	}{
		{"resolves within bound", 2, false},
		{"exhausts bound", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)

			h.stage(t, "user-1", models.SourceLive, "2")
			_, err := h.engine.GetBalance(ctx, "user-1")
			require.NoError(t, err)
			h.balances.setConflicts(tt.conflicts)

			result, err := h.engine.ReconcileNow(ctx, "user-1")
			if tt.expectErr {
				require.Error(t, err)
				assert.True(t, IsConflict(err))

				pending, peekErr := h.engine.GetPending(ctx, "user-1")
				require.NoError(t, peekErr)
				assertDecimal(t, "2", pending.Live)
				assertDecimal(t, "0.00001", h.balances.get("user-1").MiningBalance)
				return
			}

			require.NoError(t, err)
			assertDecimal(t, "2", result.AppliedAmount)
			assertDecimal(t, "2.00001", h.balances.get("user-1").MiningBalance)
		})
	}
}

func TestReconcile_ClampsToMax(t *testing.T) {
	ctx := context.Background()
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, messaging.RoutingBalanceClamped, mock.AnythingOfType("*messaging.BalanceEvent")).
		Return(nil).Once()

	h := newHarness(t, func(d *Dependencies) { d.Publisher = publisher })
	h.balances.put(&models.BalanceRecord{
		UserID:          "user-1",
		MiningBalance:   dec("4999.99"),
		ReferralBalance: dec("0"),
		Version:         7,
	})
	h.stage(t, "user-1", models.SourceLive, "1")

	result, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Clamped)
	assertDecimal(t, "1", result.AppliedAmount)
	assertDecimal(t, "0.01", result.CreditedAmount)
	assertDecimal(t, "5000", result.NewBalance)

	txs := h.transactions.forUser("user-1")
	require.Len(t, txs, 1)
	assertDecimal(t, "1", txs[0].Amount)
	assert.Equal(t, "true", txs[0].Metadata["clamped"])

	publisher.AssertExpectations(t)
}

func TestReconcile_ClampKeepsReferralBalance(t *testing.T) {
	h := newHarness(t)
	h.balances.put(&models.BalanceRecord{
		UserID:          "user-1",
		MiningBalance:   dec("4000"),
		ReferralBalance: dec("999"),
	})
	h.stage(t, "user-1", models.SourceOffline, "19.2")

	result, err := h.engine.ReconcileNow(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, result.Clamped)

	balance := h.balances.get("user-1")
	assertDecimal(t, "4001", balance.MiningBalance)
	assertDecimal(t, "999", balance.ReferralBalance)
}

func TestReconcile_Monotonic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.engine.GetBalance(ctx, "user-1")
	require.NoError(t, err)

	previous := dec("0")
	for i := 0; i < 30; i++ {
		h.clock.Advance(time.Second)
		_, err := h.engine.Tick(ctx, "user-1")
		require.NoError(t, err)

		if i%3 == 0 {
			_, err := h.engine.ReconcileNow(ctx, "user-1")
			require.NoError(t, err)

			balance := h.balances.get("user-1")
			require.NotNil(t, balance)
			assert.True(t, balance.MiningBalance.GreaterThanOrEqual(previous))
			assert.True(t, balance.WithinBounds(dec("0.00001"), dec("5000")))
			previous = balance.MiningBalance
		}
	}
}

func TestReconcile_ConcurrentCallsApplyBothAmounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.stage(t, "user-1", models.SourceLive, "1.5")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.engine.ReconcileNow(ctx, "user-1")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, h.engine.buffer.Stage(ctx, "user-1", models.SourceOffline, dec("2.25")))
		_, err := h.engine.ReconcileNow(ctx, "user-1")
		assert.NoError(t, err)
	}()
	wg.Wait()

	_, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)

	assertDecimal(t, "3.75001", h.balances.get("user-1").MiningBalance)
}

func TestReconcile_SeparateProcessesSharingStores(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// A second replica with its own in-process locker
	other := NewMiningEngine(testMiningConfig(), Dependencies{
		Balances:      h.balances,
		Transactions:  h.transactions,
		DailyEarnings: h.daily,
		Referrals:     h.referrals,
		Users:         h.users,
		State:         h.store,
		Clock:         h.clock,
		AuditLog:      quietLogger(),
	})
	_, err := h.engine.GetBalance(ctx, "user-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := h.engine
			if i%2 == 1 {
				e = other
			}
			assert.NoError(t, e.buffer.Stage(ctx, "user-1", models.SourceLive, dec("0.25")))
			// Conflicts are allowed here; the amount stays pending
			_, _ = e.ReconcileNow(ctx, "user-1")
		}(i)
	}
	wg.Wait()

	_, err = h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)

	assertDecimal(t, "10.00001", h.balances.get("user-1").MiningBalance)
}

func TestReconcile_AuditFailureDoesNotRestage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.stage(t, "user-1", models.SourceLive, "0.5")
	h.transactions.setAppendErr(errors.New("write concern timeout"))

	result, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, result.AuditErrors, 1)
	assert.Contains(t, result.AuditErrors[0], "transaction_log")
	assertDecimal(t, "0.5", result.DailyTotal)
	assertDecimal(t, "0.50001", h.balances.get("user-1").MiningBalance)

	pending, err := h.engine.GetPending(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, pending.IsZero())
}

func TestReconcile_DeferredTransactionWrittenOnNextRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.stage(t, "user-1", models.SourceOffline, "19.2")
	h.transactions.setAppendErr(errors.New("write concern timeout"))

	first, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, first.TransactionIDs)
	assert.Empty(t, h.transactions.forUser("user-1"))

	// The sweep still sees the user while a record is outstanding
	users, err := h.engine.PendingUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, users)

	h.transactions.setAppendErr(nil)

	second, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	require.Len(t, second.RecoveredTransactionIDs, 1)

	txs := h.transactions.forUser("user-1")
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionTypeOfflineMining, txs[0].Type)
	assertDecimal(t, "19.2", txs[0].Amount)

	// Written once; the balance was never credited twice
	assertDecimal(t, "19.20001", h.balances.get("user-1").MiningBalance)
	users, err = h.engine.PendingUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	third, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, third.RecoveredTransactionIDs)
	assert.Len(t, h.transactions.forUser("user-1"), 1)
}

// corruptDrainStore reports one undecodable field on the next drain
type corruptDrainStore struct {
	cache.StateStore
	corrupt map[string]string
}

func (s *corruptDrainStore) DrainPending(ctx context.Context, userID string) (models.PendingEarnings, error) {
	pending, err := s.StateStore.DrainPending(ctx, userID)
	if err != nil || s.corrupt == nil {
		return pending, err
	}
	fields := s.corrupt
	s.corrupt = nil
	return pending, &cache.CorruptPendingError{UserID: userID, Fields: fields}
}

func TestReconcile_CorruptDrainRestagesDecodedEarnings(t *testing.T) {
	ctx := context.Background()
	store := &corruptDrainStore{
		StateStore: cache.NewMemoryStateStore(),
		corrupt:    map[string]string{"offline": "not-a-number"},
	}
	h := newHarness(t, func(d *Dependencies) { d.State = store })

	require.NoError(t, h.engine.buffer.Stage(ctx, "user-1", models.SourceLive, dec("0.5")))

	_, err := h.engine.ReconcileNow(ctx, "user-1")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cache.ErrCorruptPending)

	pending, err := h.engine.GetPending(ctx, "user-1")
	require.NoError(t, err)
	assertDecimal(t, "0.5", pending.Live)

	result, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assertDecimal(t, "0.5", result.AppliedAmount)
	assertDecimal(t, "0.50001", h.balances.get("user-1").MiningBalance)
}

// cancellingBalances cancels the caller's context as soon as the run reads
// the balance and fails any write made with a cancelled context
type cancellingBalances struct {
	*memBalanceRepo
	cancel context.CancelFunc
}

func (c *cancellingBalances) GetByUserID(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	c.cancel()
	return c.memBalanceRepo.GetByUserID(ctx, userID)
}

func (c *cancellingBalances) UpdateConditional(ctx context.Context, userID string, expectedVersion int64, update models.BalanceUpdate) (*models.BalanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memBalanceRepo.UpdateConditional(ctx, userID, expectedVersion, update)
}

func TestReconcile_CallerCancellationDoesNotInterrupt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	balances := &cancellingBalances{memBalanceRepo: newMemBalanceRepo(), cancel: cancel}
	h := newHarness(t, func(d *Dependencies) { d.Balances = balances })
	h.stage(t, "user-1", models.SourceLive, "0.75")

	result, err := h.engine.ReconcileNow(ctx, "user-1")
	require.NoError(t, err)
	assertDecimal(t, "0.75", result.AppliedAmount)
	assert.Error(t, ctx.Err())
	assertDecimal(t, "0.75001", balances.get("user-1").MiningBalance)
}
