package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mining-api/internal/cache"
	"mining-api/internal/config"
	"mining-api/internal/messaging"
	"mining-api/internal/models"
	"mining-api/internal/monitoring"
	"mining-api/internal/repository"
)

// Dependencies are the collaborators of the MiningEngine. Locker, Publisher,
// Metrics, Clock and AuditLog are optional.
type Dependencies struct {
	Balances      repository.BalanceRepository
	Transactions  repository.TransactionRepository
	DailyEarnings repository.DailyEarningsRepository
	Referrals     repository.ReferralRepository
	Users         repository.UserRepository
	State         cache.StateStore
	Locker        Locker
	Publisher     messaging.Publisher
	Metrics       monitoring.MetricsService
	Clock         Clock
	AuditLog      *logrus.Logger
}

// MiningEngine is the entry point of the presentation layer and the scheduler
type MiningEngine struct {
	config     config.MiningConfig
	buffer     *PendingBuffer
	live       *LiveMiner
	offline    *OfflineTracker
	reconciler *Reconciler
	daily      *DailyAggregator
	referrals  *ReferralDistributor
	ledger     *ledger

	referralRepo repository.ReferralRepository
	transactions repository.TransactionRepository
}

func NewMiningEngine(cfg config.MiningConfig, deps Dependencies) *MiningEngine {
	if deps.Locker == nil {
		deps.Locker = NewKeyedLocker()
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NewNoopPublisher()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewNoopMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.AuditLog == nil {
		deps.AuditLog = logrus.StandardLogger()
	}
	maxAttempts := cfg.MaxUpdateAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	buffer := NewPendingBuffer(deps.State, deps.Clock)
	daily := NewDailyAggregator(deps.DailyEarnings, deps.Clock)
	ldg := &ledger{
		balances:    deps.Balances,
		clock:       deps.Clock,
		min:         cfg.Min(),
		max:         cfg.Max(),
		maxAttempts: maxAttempts,
		metrics:     deps.Metrics,
	}

	return &MiningEngine{
		config:  cfg,
		buffer:  buffer,
		live:    NewLiveMiner(deps.State, buffer, deps.Clock, cfg.LiveRate(), cfg.MaxTickInterval, cfg.TickRewardCap(), deps.Metrics),
		offline: NewOfflineTracker(deps.State, buffer, deps.Clock, cfg.OfflineRate(), cfg.MaxOfflineWindow, deps.Metrics),
		reconciler: &Reconciler{
			buffer:       buffer,
			ledger:       ldg,
			transactions: deps.Transactions,
			daily:        daily,
			locker:       deps.Locker,
			publisher:    deps.Publisher,
			metrics:      deps.Metrics,
			auditLog:     deps.AuditLog,
			clock:        deps.Clock,
			currency:     cfg.Currency,
			timeout:      defaultReconcileTimeout,
		},
		daily: daily,
		referrals: &ReferralDistributor{
			referrals:    deps.Referrals,
			users:        deps.Users,
			ledger:       ldg,
			transactions: deps.Transactions,
			locker:       deps.Locker,
			publisher:    deps.Publisher,
			metrics:      deps.Metrics,
			auditLog:     deps.AuditLog,
			clock:        deps.Clock,
			bonus:        cfg.Bonus(),
			currency:     cfg.Currency,
			timeout:      defaultReconcileTimeout,
		},
		ledger:       ldg,
		referralRepo: deps.Referrals,
		transactions: deps.Transactions,
	}
}

// Tick accrues live mining since the previous tick of the session
func (e *MiningEngine) Tick(ctx context.Context, userID string) (*TickResult, error) {
	return e.live.Tick(ctx, userID)
}

func (e *MiningEngine) RecordActivity(ctx context.Context, userID string) error {
	return e.offline.RecordActivity(ctx, userID)
}

// OnResume stages the offline catch-up reward. Reconciliation is left to
// the caller.
func (e *MiningEngine) OnResume(ctx context.Context, userID string) (*ResumeResult, error) {
	// A resume also ends any previous live session
	if err := e.live.Restart(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to reset live session: %w", err)
	}
	return e.offline.OnResume(ctx, userID)
}

func (e *MiningEngine) ReconcileNow(ctx context.Context, userID string) (*ReconcileResult, error) {
	return e.reconciler.Reconcile(ctx, userID)
}

// GetPendingOfflineEarnings returns the offline reward not yet confirmed
func (e *MiningEngine) GetPendingOfflineEarnings(ctx context.Context, userID string) (decimal.Decimal, error) {
	pending, err := e.buffer.Peek(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return pending.Offline, nil
}

// GetPending returns everything not yet confirmed, by source
func (e *MiningEngine) GetPending(ctx context.Context, userID string) (models.PendingEarnings, error) {
	return e.buffer.Peek(ctx, userID)
}

// PendingUsers lists users with earnings or transaction records waiting for reconciliation
func (e *MiningEngine) PendingUsers(ctx context.Context) ([]string, error) {
	return e.buffer.Users(ctx)
}

func (e *MiningEngine) ToggleOfflineMining(ctx context.Context, userID string, enabled bool) error {
	return e.offline.SetEnabled(ctx, userID, enabled)
}

func (e *MiningEngine) IsOfflineMiningEnabled(ctx context.Context, userID string) (bool, error) {
	return e.offline.IsEnabled(ctx, userID)
}

func (e *MiningEngine) AttributeReferral(ctx context.Context, referrerID, referredUserID string) (*models.ReferralRecord, error) {
	return e.referrals.Attribute(ctx, referrerID, referredUserID)
}

// GetBalance returns the user's balance, creating it at the floor on first use
func (e *MiningEngine) GetBalance(ctx context.Context, userID string) (*models.BalanceView, error) {
	record, err := e.ledger.getOrCreate(ctx, userID)
	if err != nil {
		return nil, unavailable("get balance", userID, err)
	}
	return record.View(e.config.Currency), nil
}

func (e *MiningEngine) GetTodayEarnings(ctx context.Context, userID string) (*models.DailyEarningsEntry, error) {
	return e.daily.Today(ctx, userID)
}

// GetTransactions returns the user's ledger entries, newest first
func (e *MiningEngine) GetTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.TransactionRecord, error) {
	txs, err := e.transactions.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, unavailable("get transactions", userID, err)
	}
	return txs, nil
}

// GetReferrals returns the referrals made by the user, newest first
func (e *MiningEngine) GetReferrals(ctx context.Context, userID string) ([]*models.ReferralRecord, error) {
	referrals, err := e.referralRepo.GetByReferrer(ctx, userID)
	if err != nil {
		return nil, unavailable("get referrals", userID, err)
	}
	return referrals, nil
}

// Currency is the unit all balances are held in
func (e *MiningEngine) Currency() string {
	return e.config.Currency
}

// SetReconcileTimeout bounds a single reconciliation once it holds the user's lock
func (e *MiningEngine) SetReconcileTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.reconciler.timeout = timeout
		e.referrals.timeout = timeout
	}
}
