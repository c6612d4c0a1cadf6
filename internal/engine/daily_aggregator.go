package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mining-api/internal/models"
	"mining-api/internal/repository"
)

// DailyAggregator keeps the per-user running total of confirmed earnings for
// the current UTC day
type DailyAggregator struct {
	repo  repository.DailyEarningsRepository
	clock Clock
}

func NewDailyAggregator(repo repository.DailyEarningsRepository, clock Clock) *DailyAggregator {
	return &DailyAggregator{repo: repo, clock: clock}
}

// AddToday adds amount to today's entry and returns the new daily total
func (a *DailyAggregator) AddToday(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: daily earnings increment %s", ErrInvalidAmount, amount)
	}

	now := a.clock.Now()
	entry, err := a.repo.UpsertAdd(ctx, userID, models.DateKey(now), amount, now)
	if err != nil {
		return decimal.Zero, unavailable("add daily earnings", userID, err)
	}
	return entry.Amount, nil
}

// Today returns today's entry, or an empty one when nothing was earned yet
func (a *DailyAggregator) Today(ctx context.Context, userID string) (*models.DailyEarningsEntry, error) {
	dateKey := models.DateKey(a.clock.Now())

	entry, err := a.repo.GetByDate(ctx, userID, dateKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.DailyEarningsEntry{UserID: userID, Date: dateKey, Amount: decimal.Zero}, nil
		}
		return nil, unavailable("get daily earnings", userID, err)
	}
	return entry, nil
}
