package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mining-api/internal/cache"
	"mining-api/internal/messaging"
	"mining-api/internal/models"
	"mining-api/internal/monitoring"
	"mining-api/internal/repository"
)

const defaultReconcileTimeout = 30 * time.Second

// ReconcileResult describes one reconciliation. RecoveredTransactionIDs are
// records of earlier runs that this run finally wrote.
type ReconcileResult struct {
	UserID                  string                `json:"user_id"`
	NoOp                    bool                  `json:"no_op"`
	AppliedAmount           decimal.Decimal       `json:"applied_amount"`
	CreditedAmount          decimal.Decimal       `json:"credited_amount"`
	Clamped                 bool                  `json:"clamped"`
	NewBalance              decimal.Decimal       `json:"new_balance"`
	Balance                 *models.BalanceRecord `json:"-"`
	DailyTotal              decimal.Decimal       `json:"daily_total"`
	TransactionIDs          []string              `json:"transaction_ids,omitempty"`
	RecoveredTransactionIDs []string              `json:"recovered_transaction_ids,omitempty"`
	AuditErrors             []string              `json:"audit_errors,omitempty"`
}

// Reconciler moves pending earnings into the durable balance
type Reconciler struct {
	buffer       *PendingBuffer
	ledger       *ledger
	transactions repository.TransactionRepository
	daily        *DailyAggregator
	locker       Locker
	publisher    messaging.Publisher
	metrics      monitoring.MetricsService
	auditLog     *logrus.Logger
	clock        Clock
	currency     string
	timeout      time.Duration
}

// Reconcile drains the user's pending earnings and credits them to the
// mining balance. Zero pending is a successful no-op. If the credit cannot
// be confirmed the drained amount is restaged and a SyncError is returned.
//
// Once the user's lock is held the run is detached from ctx cancellation and
// bounded by its own timeout instead.
func (r *Reconciler) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	start := time.Now()

	release, err := r.locker.Acquire(ctx, userID)
	if err != nil {
		r.metrics.RecordReconciliation(string(SyncUnavailable), time.Since(start))
		return nil, unavailable("reconcile", userID, err)
	}
	defer release()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	recovered := r.flushDeferred(runCtx, userID)

	pending, err := r.buffer.Drain(runCtx, userID)
	if err != nil {
		var corrupt *cache.CorruptPendingError
		if errors.As(err, &corrupt) {
			r.quarantine(runCtx, pending, corrupt)
		}
		r.metrics.RecordReconciliation(string(SyncUnavailable), time.Since(start))
		return nil, unavailable("reconcile", userID, err)
	}

	if pending.IsZero() {
		r.metrics.RecordReconciliation("noop", time.Since(start))
		return &ReconcileResult{
			UserID:                  userID,
			NoOp:                    true,
			AppliedAmount:           decimal.Zero,
			CreditedAmount:          decimal.Zero,
			RecoveredTransactionIDs: recovered,
		}, nil
	}

	credit, err := r.ledger.credit(runCtx, userID, miningSubBalance, pending.Total(), "reconcile")
	if err != nil {
		r.restage(runCtx, pending)
		status := string(SyncUnavailable)
		if IsConflict(err) {
			status = string(SyncConflict)
		}
		r.metrics.RecordReconciliation(status, time.Since(start))
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"pending": pending.Total().String(),
			"error":   err.Error(),
		}).Warn("Reconciliation failed, pending earnings restaged")
		return nil, err
	}

	result := &ReconcileResult{
		UserID:                  userID,
		AppliedAmount:           pending.Total(),
		CreditedAmount:          credit.Credited,
		Clamped:                 credit.Clamped,
		NewBalance:              credit.Record.TotalBalance(),
		Balance:                 credit.Record,
		RecoveredTransactionIDs: recovered,
	}

	// The balance is confirmed from here on. Failures below are reported but
	// never restage, which would credit the same earnings twice.
	r.recordTransactions(runCtx, pending, credit, result)

	dailyTotal, err := r.daily.AddToday(runCtx, userID, pending.Total())
	if err != nil {
		r.auditFailure(result, "daily_earnings", err)
	} else {
		result.DailyTotal = dailyTotal
	}

	r.publish(runCtx, result)

	for _, kind := range []models.SourceKind{models.SourceLive, models.SourceOffline} {
		if amount := pending.Amount(kind); amount.IsPositive() {
			r.metrics.RecordCredit(string(kind), amount.InexactFloat64())
		}
	}
	r.metrics.RecordReconciliation("success", time.Since(start))

	r.auditLog.WithFields(logrus.Fields{
		"event":           "balance_credited",
		"user_id":         userID,
		"applied":         result.AppliedAmount.String(),
		"credited":        result.CreditedAmount.String(),
		"clamped":         result.Clamped,
		"new_balance":     result.NewBalance.String(),
		"version":         credit.Record.Version,
		"transaction_ids": result.TransactionIDs,
	}).Info("Pending earnings reconciled")

	return result, nil
}

func (r *Reconciler) recordTransactions(ctx context.Context, pending models.PendingEarnings, credit *creditResult, result *ReconcileResult) {
	batchID := uuid.New().String()
	now := r.clock.Now()

	for _, kind := range []models.SourceKind{models.SourceLive, models.SourceOffline} {
		amount := pending.Amount(kind)
		if amount.IsZero() {
			continue
		}

		tx := models.NewTransaction(&models.TransactionRequest{
			UserID:         pending.UserID,
			Amount:         amount,
			Currency:       r.currency,
			Type:           kind.TransactionType(),
			IdempotencyKey: batchID + ":" + string(kind),
			Metadata: map[string]string{
				"batch_id":        batchID,
				"source":          string(kind),
				"batch_credited":  credit.Credited.String(),
				"clamped":         strconv.FormatBool(credit.Clamped),
				"balance_version": strconv.FormatInt(credit.Record.Version, 10),
			},
		}, now)
		// A record is only written after the balance update it describes
		_ = tx.MarkCompleted()

		id, err := r.transactions.Append(ctx, tx)
		if err != nil {
			r.auditFailure(result, "transaction_log", err)
			r.deferTransaction(ctx, tx)
			continue
		}
		result.TransactionIDs = append(result.TransactionIDs, id)
	}
}

// deferTransaction keeps a record the log refused so the next run for the
// user writes it under the same idempotency key
func (r *Reconciler) deferTransaction(ctx context.Context, tx *models.TransactionRecord) {
	if err := r.buffer.Defer(ctx, tx); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":         tx.UserID,
			"idempotency_key": tx.IdempotencyKey,
			"error":           err.Error(),
		}).Error("Failed to defer transaction record")
		r.auditLog.WithFields(logrus.Fields{
			"event":           "transaction_lost",
			"user_id":         tx.UserID,
			"transaction_id":  tx.TransactionID,
			"idempotency_key": tx.IdempotencyKey,
			"type":            tx.Type,
			"amount":          tx.Amount.String(),
		}).Error("Transaction record could not be written or deferred")
	}
}

// flushDeferred writes records left over by earlier runs. Failures keep them
// deferred for the next run.
func (r *Reconciler) flushDeferred(ctx context.Context, userID string) []string {
	txs, err := r.buffer.Deferred(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to read deferred transaction records")
		return nil
	}

	var ids []string
	for _, tx := range txs {
		id, err := r.transactions.Append(ctx, tx)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id":         userID,
				"idempotency_key": tx.IdempotencyKey,
				"error":           err.Error(),
			}).Warn("Deferred transaction record still not written")
			continue
		}
		ids = append(ids, id)
		if err := r.buffer.Written(ctx, tx); err != nil {
			logrus.WithError(err).WithField("idempotency_key", tx.IdempotencyKey).Warn("Failed to clear deferred transaction record")
		}
	}
	return ids
}

// quarantine restages the decodable part of a corrupt drain and keeps the raw
// fields in the audit log, since the drain already removed them from the store
func (r *Reconciler) quarantine(ctx context.Context, pending models.PendingEarnings, corrupt *cache.CorruptPendingError) {
	r.metrics.IncrementAuditErrors("pending_corrupt")
	r.auditLog.WithFields(logrus.Fields{
		"event":      "pending_corrupt",
		"user_id":    corrupt.UserID,
		"raw_fields": corrupt.Fields,
		"restaged":   pending.Total().String(),
	}).Error("Corrupt pending earnings drained")
	r.restage(ctx, pending)
}

func (r *Reconciler) publish(ctx context.Context, result *ReconcileResult) {
	routingKey := messaging.RoutingBalanceCredited
	if result.Clamped {
		routingKey = messaging.RoutingBalanceClamped
	}

	event := &messaging.BalanceEvent{
		UserID:         result.UserID,
		Amount:         result.AppliedAmount.String(),
		Credited:       result.CreditedAmount.String(),
		TotalBalance:   result.NewBalance.String(),
		Currency:       r.currency,
		Clamped:        result.Clamped,
		TransactionIDs: result.TransactionIDs,
		Timestamp:      r.clock.Now(),
	}
	if err := r.publisher.Publish(ctx, routingKey, event); err != nil {
		logrus.WithError(err).WithField("user_id", result.UserID).Warn("Failed to publish balance event")
	}
}

func (r *Reconciler) restage(ctx context.Context, pending models.PendingEarnings) {
	if err := r.buffer.Restage(ctx, pending); err != nil {
		// Nothing else holds these earnings any more
		logrus.WithFields(logrus.Fields{
			"user_id": pending.UserID,
			"live":    pending.Live.String(),
			"offline": pending.Offline.String(),
			"error":   err.Error(),
		}).Error("Failed to restage pending earnings")
		r.auditLog.WithFields(logrus.Fields{
			"event":   "pending_lost",
			"user_id": pending.UserID,
			"live":    pending.Live.String(),
			"offline": pending.Offline.String(),
		}).Error("Pending earnings could not be restaged")
	}
}

func (r *Reconciler) auditFailure(result *ReconcileResult, stage string, err error) {
	r.metrics.IncrementAuditErrors(stage)
	result.AuditErrors = append(result.AuditErrors, stage+": "+err.Error())
	logrus.WithFields(logrus.Fields{
		"user_id": result.UserID,
		"stage":   stage,
		"error":   err.Error(),
	}).Error("Balance credited but audit write failed")
}
