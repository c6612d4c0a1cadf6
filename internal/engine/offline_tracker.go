package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mining-api/internal/cache"
	"mining-api/internal/models"
	"mining-api/internal/monitoring"
)

// ResumeResult describes the catch-up reward computed when a user comes back
type ResumeResult struct {
	UserID    string          `json:"user_id"`
	Gap       time.Duration   `json:"gap"`
	CappedGap time.Duration   `json:"capped_gap"`
	Capped    bool            `json:"capped"`
	Enabled   bool            `json:"enabled"`
	Reward    decimal.Decimal `json:"reward"`
}

// OfflineTracker stamps user activity and turns the time between the last
// stamp and a resume into an offline reward
type OfflineTracker struct {
	store     cache.StateStore
	buffer    *PendingBuffer
	clock     Clock
	rate      decimal.Decimal
	maxWindow time.Duration
	metrics   monitoring.MetricsService
}

func NewOfflineTracker(store cache.StateStore, buffer *PendingBuffer, clock Clock, rate decimal.Decimal, maxWindow time.Duration, metrics monitoring.MetricsService) *OfflineTracker {
	return &OfflineTracker{
		store:     store,
		buffer:    buffer,
		clock:     clock,
		rate:      rate,
		maxWindow: maxWindow,
		metrics:   metrics,
	}
}

// RecordActivity marks the user as seen now
func (t *OfflineTracker) RecordActivity(ctx context.Context, userID string) error {
	return t.store.SetLastSeen(ctx, userID, t.clock.Now())
}

// OnResume stages the reward for the gap since the user was last seen and
// resets last-seen to now. The reset happens even when nothing is earned, so
// a retried resume never derives the same gap twice.
func (t *OfflineTracker) OnResume(ctx context.Context, userID string) (*ResumeResult, error) {
	now := t.clock.Now()

	lastSeen, seen, err := t.store.GetLastSeen(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last seen: %w", err)
	}

	enabled, err := t.IsEnabled(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ResumeResult{
		UserID:  userID,
		Enabled: enabled,
		Reward:  decimal.Zero,
	}

	if seen && now.After(lastSeen) {
		result.Gap = now.Sub(lastSeen)
		result.CappedGap = result.Gap
		if result.CappedGap > t.maxWindow {
			result.CappedGap = t.maxWindow
			result.Capped = true
		}
		if enabled {
			result.Reward = AccrueOffline(result.CappedGap, t.rate)
		}
	}

	// Staging first: if it fails last-seen is untouched and the next resume
	// re-derives the same reward instead of losing it
	if result.Reward.IsPositive() {
		if err := t.buffer.Stage(ctx, userID, models.SourceOffline, result.Reward); err != nil {
			return nil, fmt.Errorf("failed to stage offline reward: %w", err)
		}
		t.metrics.RecordOfflineReward(result.Reward.InexactFloat64(), result.Capped)
	}

	if err := t.store.SetLastSeen(ctx, userID, now); err != nil {
		return result, fmt.Errorf("failed to reset last seen: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"gap":     result.Gap.String(),
		"capped":  result.Capped,
		"enabled": enabled,
		"reward":  result.Reward.String(),
	}).Debug("Offline catch-up computed")

	return result, nil
}

// IsEnabled reports the user's offline mining preference, enabled by default
func (t *OfflineTracker) IsEnabled(ctx context.Context, userID string) (bool, error) {
	enabled, stored, err := t.store.GetOfflineEnabled(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read offline mining preference: %w", err)
	}
	if !stored {
		return true, nil
	}
	return enabled, nil
}

func (t *OfflineTracker) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	return t.store.SetOfflineEnabled(ctx, userID, enabled)
}
