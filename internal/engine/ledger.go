package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mining-api/internal/models"
	"mining-api/internal/monitoring"
	"mining-api/internal/repository"
)

type subBalance int

const (
	miningSubBalance subBalance = iota
	referralSubBalance
)

func (s subBalance) String() string {
	if s == referralSubBalance {
		return "referral"
	}
	return "mining"
}

type creditResult struct {
	Record    *models.BalanceRecord
	Requested decimal.Decimal
	Credited  decimal.Decimal
	Clamped   bool
	Attempts  int
}

// ledger applies read-clamp-write credits to the balance store. Callers hold
// the user's lock; the version check still guards against writers outside
// this process.
type ledger struct {
	balances    repository.BalanceRepository
	clock       Clock
	min         decimal.Decimal
	max         decimal.Decimal
	maxAttempts int
	metrics     monitoring.MetricsService
}

// getOrCreate returns the user's balance, creating it at the floor the first
// time the user is seen
func (l *ledger) getOrCreate(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	record, err := l.balances.GetByUserID(ctx, userID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return l.balances.CreateIfAbsent(ctx, models.NewFloorBalance(userID, l.min, l.clock.Now()))
}

func (l *ledger) credit(ctx context.Context, userID string, target subBalance, amount decimal.Decimal, op string) (*creditResult, error) {
	var lastErr error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		current, err := l.getOrCreate(ctx, userID)
		if err != nil {
			return nil, unavailable(op, userID, err)
		}

		update, credited, clamped := l.apply(current, target, amount)

		updated, err := l.balances.UpdateConditional(ctx, userID, current.Version, update)
		if err == nil {
			if clamped {
				l.metrics.IncrementClamped(op)
				logrus.WithFields(logrus.Fields{
					"user_id":   userID,
					"requested": amount.String(),
					"credited":  credited.String(),
					"max":       l.max.String(),
				}).Warn("Credit truncated by balance ceiling")
			}
			return &creditResult{
				Record:    updated,
				Requested: amount,
				Credited:  credited,
				Clamped:   clamped,
				Attempts:  attempt,
			}, nil
		}

		if !errors.Is(err, repository.ErrConflict) {
			return nil, unavailable(op, userID, err)
		}

		lastErr = err
		l.metrics.IncrementConflictRetries(op)
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"version": current.Version,
			"attempt": attempt,
		}).Debug("Balance changed concurrently, retrying")
	}

	return nil, &SyncError{
		Kind:   SyncConflict,
		Op:     op,
		UserID: userID,
		Err:    fmt.Errorf("gave up after %d attempts: %w", l.maxAttempts, lastErr),
	}
}

// apply computes the new sub-balances for crediting amount to target. The
// total is clamped to [min, max]; sub-balances never decrease.
func (l *ledger) apply(current *models.BalanceRecord, target subBalance, amount decimal.Decimal) (models.BalanceUpdate, decimal.Decimal, bool) {
	total := current.TotalBalance()
	candidate := total.Add(amount)
	newTotal := clamp(candidate, l.min, l.max)

	update := models.BalanceUpdate{
		MiningBalance:   current.MiningBalance,
		ReferralBalance: current.ReferralBalance,
		LastUpdated:     l.clock.Now(),
	}

	switch target {
	case referralSubBalance:
		update.ReferralBalance = decimal.Max(current.ReferralBalance, newTotal.Sub(current.MiningBalance))
	default:
		update.MiningBalance = decimal.Max(current.MiningBalance, newTotal.Sub(current.ReferralBalance))
	}

	credited := update.MiningBalance.Add(update.ReferralBalance).Sub(total)
	return update, credited, candidate.GreaterThan(l.max)
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
