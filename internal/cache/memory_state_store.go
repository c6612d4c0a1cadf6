package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mining-api/internal/models"
)

type memoryStateStore struct {
	mu         sync.Mutex
	pending    map[string]models.PendingEarnings
	lastSeen   map[string]time.Time
	lastTick   map[string]time.Time
	offlineOpt map[string]bool
	deferred   map[string]map[string]models.TransactionRecord
}

// NewMemoryStateStore returns a process-local StateStore for tests and
// single-instance deployments without Redis
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{
		pending:    make(map[string]models.PendingEarnings),
		lastSeen:   make(map[string]time.Time),
		lastTick:   make(map[string]time.Time),
		offlineOpt: make(map[string]bool),
		deferred:   make(map[string]map[string]models.TransactionRecord),
	}
}

func (s *memoryStateStore) StagePending(_ context.Context, userID string, kind models.SourceKind, amount decimal.Decimal, capturedAt time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown source kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok {
		p = models.PendingEarnings{UserID: userID, Live: decimal.Zero, Offline: decimal.Zero, CapturedAt: capturedAt}
	}
	// Same precision as the Redis hash
	units := fromUnits(toUnits(amount))
	if kind == models.SourceOffline {
		p.Offline = p.Offline.Add(units)
	} else {
		p.Live = p.Live.Add(units)
	}
	s.pending[userID] = p
	return nil
}

func (s *memoryStateStore) DrainPending(_ context.Context, userID string) (models.PendingEarnings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok {
		return models.PendingEarnings{UserID: userID, Live: decimal.Zero, Offline: decimal.Zero}, nil
	}
	delete(s.pending, userID)
	return p, nil
}

func (s *memoryStateStore) PeekPending(_ context.Context, userID string) (models.PendingEarnings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[userID]
	if !ok {
		return models.PendingEarnings{UserID: userID, Live: decimal.Zero, Offline: decimal.Zero}, nil
	}
	return p, nil
}

func (s *memoryStateStore) PendingUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.pending)+len(s.deferred))
	for userID := range s.pending {
		users = append(users, userID)
	}
	for userID := range s.deferred {
		if _, ok := s.pending[userID]; !ok {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *memoryStateStore) DeferTransaction(_ context.Context, tx *models.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.deferred[tx.UserID]
	if !ok {
		byKey = make(map[string]models.TransactionRecord)
		s.deferred[tx.UserID] = byKey
	}
	byKey[tx.IdempotencyKey] = *tx
	return nil
}

func (s *memoryStateStore) DeferredTransactions(_ context.Context, userID string) ([]*models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := make([]*models.TransactionRecord, 0, len(s.deferred[userID]))
	for _, tx := range s.deferred[userID] {
		copied := tx
		txs = append(txs, &copied)
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].IdempotencyKey < txs[j].IdempotencyKey })
	return txs, nil
}

func (s *memoryStateStore) RemoveTransaction(_ context.Context, userID, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deferred[userID], idempotencyKey)
	if len(s.deferred[userID]) == 0 {
		delete(s.deferred, userID)
	}
	return nil
}

func (s *memoryStateStore) GetLastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSeen[userID]
	return t, ok, nil
}

func (s *memoryStateStore) SetLastSeen(_ context.Context, userID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = t
	return nil
}

func (s *memoryStateStore) GetLastTick(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastTick[userID]
	return t, ok, nil
}

func (s *memoryStateStore) SetLastTick(_ context.Context, userID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick[userID] = t
	return nil
}

func (s *memoryStateStore) GetOfflineEnabled(_ context.Context, userID string) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enabled, ok := s.offlineOpt[userID]
	return enabled, ok, nil
}

func (s *memoryStateStore) SetOfflineEnabled(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offlineOpt[userID] = enabled
	return nil
}

func (s *memoryStateStore) Ping(_ context.Context) error {
	return nil
}
