package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mining-api/internal/messaging"
	"mining-api/internal/models"
	"mining-api/internal/monitoring"
	"mining-api/internal/repository"
)

// ReferralDistributor attributes a new user to the referrer who brought them
// in and credits the referrer's referral balance once
type ReferralDistributor struct {
	referrals    repository.ReferralRepository
	users        repository.UserRepository
	ledger       *ledger
	transactions repository.TransactionRepository
	locker       Locker
	publisher    messaging.Publisher
	metrics      monitoring.MetricsService
	auditLog     *logrus.Logger
	clock        Clock
	bonus        decimal.Decimal
	currency     string
	timeout      time.Duration
}

func (d *ReferralDistributor) Attribute(ctx context.Context, referrerID, referredUserID string) (*models.ReferralRecord, error) {
	record, err := d.attribute(ctx, referrerID, referredUserID)
	switch {
	case err == nil:
		d.metrics.RecordReferral("attributed")
	case errors.Is(err, ErrAlreadyReferred):
		d.metrics.RecordReferral("already_referred")
	case errors.Is(err, ErrInvalidReferrer):
		d.metrics.RecordReferral("invalid_referrer")
	default:
		d.metrics.RecordReferral("failed")
	}
	return record, err
}

func (d *ReferralDistributor) attribute(ctx context.Context, referrerID, referredUserID string) (*models.ReferralRecord, error) {
	if referrerID == "" {
		return nil, fmt.Errorf("%w: referrer id is required", ErrInvalidReferrer)
	}
	if referrerID == referredUserID {
		return nil, fmt.Errorf("%w: users cannot refer themselves", ErrInvalidReferrer)
	}

	exists, err := d.users.Exists(ctx, referrerID)
	if err != nil {
		return nil, unavailable("attribute referral", referredUserID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: referrer %s does not exist", ErrInvalidReferrer, referrerID)
	}

	// Attributions of one referred user run one at a time, so a pending record
	// found below is never one that another attempt is still working on
	release, err := d.locker.Acquire(ctx, referralLockKey(referredUserID))
	if err != nil {
		return nil, unavailable("attribute referral", referredUserID, err)
	}
	defer release()

	// From the first write on the attribution runs to completion or rollback
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	record, err := d.referrals.FindByReferredUser(runCtx, referredUserID)
	switch {
	case err == nil:
		if record.Status != models.ReferralStatusPending || record.ReferrerID != referrerID {
			return nil, ErrAlreadyReferred
		}
		return d.resume(runCtx, record)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, unavailable("attribute referral", referredUserID, err)
	}

	record = &models.ReferralRecord{
		ReferrerID:     referrerID,
		ReferredUserID: referredUserID,
		Status:         models.ReferralStatusPending,
		BonusAmount:    d.bonus,
		CreatedAt:      d.clock.Now(),
	}

	// The unique referred-user key makes the first of two racing attributions win
	if _, err := d.referrals.Record(runCtx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyReferred
		}
		return nil, unavailable("attribute referral", referredUserID, err)
	}

	return d.complete(runCtx, record)
}

// resume finishes a referral left pending by an earlier attempt. If that
// attempt already credited the bonus only the activation is repeated.
func (d *ReferralDistributor) resume(ctx context.Context, record *models.ReferralRecord) (*models.ReferralRecord, error) {
	_, err := d.transactions.GetByIdempotencyKey(ctx, referralIdempotencyKey(record.ReferredUserID))
	switch {
	case err == nil:
		d.activate(ctx, record)
		return record, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, unavailable("attribute referral", record.ReferredUserID, err)
	}

	logrus.WithFields(logrus.Fields{
		"referral_id":      record.ID,
		"referrer_id":      record.ReferrerID,
		"referred_user_id": record.ReferredUserID,
	}).Info("Resuming pending referral")

	return d.complete(ctx, record)
}

func (d *ReferralDistributor) complete(ctx context.Context, record *models.ReferralRecord) (*models.ReferralRecord, error) {
	referrerID := record.ReferrerID
	referredUserID := record.ReferredUserID

	credit, err := d.creditReferrer(ctx, referrerID)
	if err != nil {
		d.rollback(ctx, record, err)
		return nil, err
	}

	d.recordTransaction(ctx, record, credit)
	d.activate(ctx, record)

	routingKey := messaging.RoutingReferralAttributed
	event := &messaging.BalanceEvent{
		UserID:       referrerID,
		Amount:       d.bonus.String(),
		Credited:     credit.Credited.String(),
		TotalBalance: credit.Record.TotalBalance().String(),
		Currency:     d.currency,
		Clamped:      credit.Clamped,
		Timestamp:    d.clock.Now(),
		Metadata:     map[string]string{"referred_user_id": referredUserID, "referral_id": record.ID},
	}
	if err := d.publisher.Publish(ctx, routingKey, event); err != nil {
		logrus.WithError(err).WithField("referral_id", record.ID).Warn("Failed to publish referral event")
	}

	d.auditLog.WithFields(logrus.Fields{
		"event":            "referral_attributed",
		"referral_id":      record.ID,
		"referrer_id":      referrerID,
		"referred_user_id": referredUserID,
		"bonus":            d.bonus.String(),
		"credited":         credit.Credited.String(),
		"clamped":          credit.Clamped,
	}).Info("Referral bonus credited")

	return record, nil
}

func (d *ReferralDistributor) creditReferrer(ctx context.Context, referrerID string) (*creditResult, error) {
	release, err := d.locker.Acquire(ctx, referrerID)
	if err != nil {
		return nil, unavailable("credit referral bonus", referrerID, err)
	}
	defer release()

	return d.ledger.credit(ctx, referrerID, referralSubBalance, d.bonus, "referral")
}

// activate marks the referral active. On failure the record stays pending
// and the next attempt for the same referrer finishes it.
func (d *ReferralDistributor) activate(ctx context.Context, record *models.ReferralRecord) {
	if err := d.referrals.Activate(ctx, record.ID); err != nil {
		d.metrics.IncrementAuditErrors("referral_status")
		logrus.WithFields(logrus.Fields{
			"referral_id": record.ID,
			"error":       err.Error(),
		}).Error("Referral bonus credited but referral could not be activated")
		return
	}
	record.Status = models.ReferralStatusActive
}

// rollback removes the referral so a later attempt is not rejected as a
// duplicate. If the delete fails the record stays pending, which a retry
// from the same referrer resumes.
func (d *ReferralDistributor) rollback(ctx context.Context, record *models.ReferralRecord, cause error) {
	fields := logrus.Fields{
		"referral_id":      record.ID,
		"referrer_id":      record.ReferrerID,
		"referred_user_id": record.ReferredUserID,
		"cause":            cause.Error(),
	}

	if err := d.referrals.Delete(ctx, record.ID); err != nil {
		logrus.WithFields(fields).WithError(err).Error("Failed to roll back referral after credit failure")
		return
	}
	logrus.WithFields(fields).Warn("Referral rolled back after credit failure")
}

func (d *ReferralDistributor) recordTransaction(ctx context.Context, record *models.ReferralRecord, credit *creditResult) {
	tx := models.NewTransaction(&models.TransactionRequest{
		UserID:         record.ReferrerID,
		Amount:         record.BonusAmount,
		Currency:       d.currency,
		Type:           models.TransactionTypeReferral,
		ExternalRef:    record.ID,
		IdempotencyKey: referralIdempotencyKey(record.ReferredUserID),
		Metadata: map[string]string{
			"referred_user_id": record.ReferredUserID,
			"credited":         credit.Credited.String(),
		},
	}, d.clock.Now())
	_ = tx.MarkCompleted()

	if _, err := d.transactions.Append(ctx, tx); err != nil {
		d.metrics.IncrementAuditErrors("transaction_log")
		logrus.WithFields(logrus.Fields{
			"referral_id": record.ID,
			"error":       err.Error(),
		}).Error("Referral bonus credited but transaction log write failed")
	}
}

func referralLockKey(referredUserID string) string {
	return "referral:" + referredUserID
}

func referralIdempotencyKey(referredUserID string) string {
	return "referral:" + referredUserID
}
