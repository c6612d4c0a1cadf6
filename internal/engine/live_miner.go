package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mining-api/internal/cache"
	"mining-api/internal/models"
	"mining-api/internal/monitoring"
)

type TickResult struct {
	UserID  string          `json:"user_id"`
	First   bool            `json:"first"`
	Elapsed time.Duration   `json:"elapsed"`
	Reward  decimal.Decimal `json:"reward"`
	Capped  bool            `json:"capped"`
}

// LiveMiner turns the time between two ticks of an active session into a
// live reward. The first tick of a session only starts the clock.
type LiveMiner struct {
	store       cache.StateStore
	buffer      *PendingBuffer
	clock       Clock
	rate        decimal.Decimal
	maxInterval time.Duration
	maxReward   decimal.Decimal
	metrics     monitoring.MetricsService
}

func NewLiveMiner(store cache.StateStore, buffer *PendingBuffer, clock Clock, rate decimal.Decimal, maxInterval time.Duration, maxReward decimal.Decimal, metrics monitoring.MetricsService) *LiveMiner {
	return &LiveMiner{
		store:       store,
		buffer:      buffer,
		clock:       clock,
		rate:        rate,
		maxInterval: maxInterval,
		maxReward:   maxReward,
		metrics:     metrics,
	}
}

func (m *LiveMiner) Tick(ctx context.Context, userID string) (*TickResult, error) {
	now := m.clock.Now()

	lastTick, ticked, err := m.store.GetLastTick(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last tick: %w", err)
	}

	result := &TickResult{UserID: userID, First: !ticked, Reward: decimal.Zero}

	if ticked && now.After(lastTick) {
		// A long pause between ticks is offline time, not live time
		result.Elapsed = now.Sub(lastTick)
		if result.Elapsed > m.maxInterval {
			result.Elapsed = m.maxInterval
		}
		result.Reward = Accrue(result.Elapsed, m.rate)
		if result.Reward.GreaterThan(m.maxReward) {
			result.Reward = m.maxReward
			result.Capped = true
		}
	}

	if err := m.buffer.Stage(ctx, userID, models.SourceLive, result.Reward); err != nil {
		return nil, fmt.Errorf("failed to stage live reward: %w", err)
	}
	if err := m.store.SetLastTick(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to store last tick: %w", err)
	}
	// A ticking session is an active one
	if err := m.store.SetLastSeen(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to store last seen: %w", err)
	}

	if result.Reward.IsPositive() {
		m.metrics.RecordTickReward(result.Reward.InexactFloat64())
	}

	return result, nil
}

// Restart starts a new live session at now, so the next tick does not count
// time that was already rewarded as offline
func (m *LiveMiner) Restart(ctx context.Context, userID string) error {
	return m.store.SetLastTick(ctx, userID, m.clock.Now())
}
