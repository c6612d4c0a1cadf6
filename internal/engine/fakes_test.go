package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"mining-api/internal/cache"
	"mining-api/internal/config"
	"mining-api/internal/messaging"
	"mining-api/internal/models"
	"mining-api/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// memBalanceRepo enforces the version check like the Mongo repository
type memBalanceRepo struct {
	mu        sync.Mutex
	records   map[string]*models.BalanceRecord
	getErr    error
	updateErr error
	conflicts int
	updates   int
}

func newMemBalanceRepo() *memBalanceRepo {
	return &memBalanceRepo{records: make(map[string]*models.BalanceRecord)}
}

func (r *memBalanceRepo) GetByUserID(_ context.Context, userID string) (*models.BalanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return nil, r.getErr
	}
	rec, ok := r.records[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memBalanceRepo) CreateIfAbsent(_ context.Context, floor *models.BalanceRecord) (*models.BalanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[floor.UserID]; ok {
		return rec.Clone(), nil
	}
	r.records[floor.UserID] = floor.Clone()
	return floor.Clone(), nil
}

func (r *memBalanceRepo) UpdateConditional(_ context.Context, userID string, expectedVersion int64, update models.BalanceUpdate) (*models.BalanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return nil, r.updateErr
	}
	rec, ok := r.records[userID]
	if !ok {
		return nil, repository.ErrConflict
	}
	if r.conflicts > 0 {
		// Another writer got there first
		r.conflicts--
		rec.Version++
		return nil, repository.ErrConflict
	}
	if rec.Version != expectedVersion {
		return nil, repository.ErrConflict
	}

	rec.MiningBalance = update.MiningBalance
	rec.ReferralBalance = update.ReferralBalance
	rec.LastUpdated = update.LastUpdated
	rec.Version++
	r.updates++
	return rec.Clone(), nil
}

func (r *memBalanceRepo) put(rec *models.BalanceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.UserID] = rec.Clone()
}

func (r *memBalanceRepo) get(userID string) *models.BalanceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[userID]; ok {
		return rec.Clone()
	}
	return nil
}

func (r *memBalanceRepo) setUpdateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

func (r *memBalanceRepo) setConflicts(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts = n
}

func (r *memBalanceRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

type memTransactionRepo struct {
	mu        sync.Mutex
	txs       []*models.TransactionRecord
	byKey     map[string]string
	appendErr error
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{byKey: make(map[string]string)}
}

func (r *memTransactionRepo) Append(_ context.Context, tx *models.TransactionRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.appendErr != nil {
		return "", r.appendErr
	}
	if id, ok := r.byKey[tx.IdempotencyKey]; ok {
		return id, nil
	}
	stored := *tx
	r.txs = append(r.txs, &stored)
	r.byKey[tx.IdempotencyKey] = tx.TransactionID
	return tx.TransactionID, nil
}

func (r *memTransactionRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range r.txs {
		if tx.IdempotencyKey == key {
			stored := *tx
			return &stored, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memTransactionRepo) GetByUserID(_ context.Context, userID string, limit int, offset int) ([]*models.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*models.TransactionRecord, 0)
	for i := len(r.txs) - 1; i >= 0; i-- {
		if r.txs[i].UserID == userID {
			stored := *r.txs[i]
			result = append(result, &stored)
		}
	}
	if offset >= len(result) {
		return []*models.TransactionRecord{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *memTransactionRepo) forUser(userID string) []*models.TransactionRecord {
	txs, _ := r.GetByUserID(context.Background(), userID, 0, 0)
	return txs
}

func (r *memTransactionRepo) setAppendErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendErr = err
}

type memDailyRepo struct {
	mu        sync.Mutex
	entries   map[string]*models.DailyEarningsEntry
	upsertErr error
}

func newMemDailyRepo() *memDailyRepo {
	return &memDailyRepo{entries: make(map[string]*models.DailyEarningsEntry)}
}

func (r *memDailyRepo) UpsertAdd(_ context.Context, userID string, dateKey string, amount decimal.Decimal, now time.Time) (*models.DailyEarningsEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	key := userID + "|" + dateKey
	entry, ok := r.entries[key]
	if !ok {
		entry = &models.DailyEarningsEntry{UserID: userID, Date: dateKey, Amount: decimal.Zero}
		r.entries[key] = entry
	}
	entry.Amount = entry.Amount.Add(amount)
	entry.LastUpdated = now

	copied := *entry
	return &copied, nil
}

func (r *memDailyRepo) GetByDate(_ context.Context, userID string, dateKey string) (*models.DailyEarningsEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[userID+"|"+dateKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

type memReferralRepo struct {
	mu          sync.Mutex
	records     map[string]*models.ReferralRecord
	seq         int
	deletions   int
	deleteErr   error
	activateErr error
}

func newMemReferralRepo() *memReferralRepo {
	return &memReferralRepo{records: make(map[string]*models.ReferralRecord)}
}

func (r *memReferralRepo) Record(_ context.Context, referral *models.ReferralRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[referral.ReferredUserID]; ok {
		return "", repository.ErrDuplicate
	}
	r.seq++
	referral.ID = fmt.Sprintf("ref-%d", r.seq)
	stored := *referral
	r.records[referral.ReferredUserID] = &stored
	return referral.ID, nil
}

func (r *memReferralRepo) FindByReferredUser(_ context.Context, userID string) (*models.ReferralRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	stored := *rec
	return &stored, nil
}

func (r *memReferralRepo) GetByReferrer(_ context.Context, referrerID string) ([]*models.ReferralRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]*models.ReferralRecord, 0)
	for _, rec := range r.records {
		if rec.ReferrerID == referrerID {
			stored := *rec
			result = append(result, &stored)
		}
	}
	return result, nil
}

func (r *memReferralRepo) Activate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activateErr != nil {
		return r.activateErr
	}
	for _, rec := range r.records {
		if rec.ID == id {
			rec.Status = models.ReferralStatusActive
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memReferralRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleteErr != nil {
		return r.deleteErr
	}

	for referred, rec := range r.records {
		if rec.ID == id {
			delete(r.records, referred)
			r.deletions++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memReferralRepo) setDeleteErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteErr = err
}

func (r *memReferralRepo) setActivateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activateErr = err
}

type memUserRepo struct {
	users map[string]bool
}

func newMemUserRepo(ids ...string) *memUserRepo {
	r := &memUserRepo{users: make(map[string]bool)}
	for _, id := range ids {
		r.users[id] = true
	}
	return r
}

func (r *memUserRepo) Exists(_ context.Context, userID string) (bool, error) {
	return r.users[userID], nil
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, event *messaging.BalanceEvent) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *MockPublisher) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

type harness struct {
	engine       *MiningEngine
	clock        *fakeClock
	store        cache.StateStore
	balances     *memBalanceRepo
	transactions *memTransactionRepo
	daily        *memDailyRepo
	referrals    *memReferralRepo
	users        *memUserRepo
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testMiningConfig() config.MiningConfig {
	return config.MiningConfig{
		LiveRatePerMinute:    0.04,
		OfflineRatePerMinute: 0.04,
		MaxOfflineWindow:     8 * time.Hour,
		MaxTickInterval:      5 * time.Second,
		MaxTickReward:        5,
		MinBalance:           0.00001,
		MaxBalance:           5000,
		ReferralBonus:        50,
		Currency:             "STARZ",
		MaxUpdateAttempts:    3,
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, opts ...func(*Dependencies)) *harness {
	t.Helper()

	h := &harness{
		clock:        newFakeClock(testStart),
		store:        cache.NewMemoryStateStore(),
		balances:     newMemBalanceRepo(),
		transactions: newMemTransactionRepo(),
		daily:        newMemDailyRepo(),
		referrals:    newMemReferralRepo(),
		users:        newMemUserRepo("referrer-1", "referrer-2"),
	}

	deps := Dependencies{
		Balances:      h.balances,
		Transactions:  h.transactions,
		DailyEarnings: h.daily,
		Referrals:     h.referrals,
		Users:         h.users,
		State:         h.store,
		Clock:         h.clock,
		AuditLog:      quietLogger(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.engine = NewMiningEngine(testMiningConfig(), deps)
	return h
}

func (h *harness) stage(t *testing.T, userID string, kind models.SourceKind, amount string) {
	t.Helper()
	err := h.engine.buffer.Stage(context.Background(), userID, kind, dec(amount))
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...interface{}) bool {
	t.Helper()
	want := dec(expected)
	if !want.Equal(actual) {
		return assert.Fail(t, fmt.Sprintf("expected %s, got %s", want, actual), msgAndArgs...)
	}
	return true
}
