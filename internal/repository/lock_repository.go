package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is held by another owner")

type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error)
	ReleaseLock(ctx context.Context, lock *DistributedLock) error
}

type DistributedLock struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

type lockRepository struct {
	client *redis.Client
	prefix string
}

func NewLockRepository(client *redis.Client, keyPrefix string) LockRepository {
	return &lockRepository{
		client: client,
		prefix: keyPrefix + ":lock:",
	}
}

var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

func (r *lockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := r.prefix + key
	lockValue := uuid.New().String()

	ok, err := r.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return &DistributedLock{
		Key:        lockKey,
		Value:      lockValue,
		TTL:        ttl,
		AcquiredAt: time.Now(),
	}, nil
}

// ReleaseLock deletes the lock only if it is still owned by the caller
func (r *lockRepository) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	result, err := releaseScript.Run(ctx, r.client, []string{lock.Key}, lock.Value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("lock not found or already released: %s", lock.Key)
	}
	return nil
}

// UserLockManager serializes balance writers of one user across processes
type UserLockManager struct {
	lockRepo     LockRepository
	ttl          time.Duration
	retryBackoff time.Duration
}

func NewUserLockManager(lockRepo LockRepository, ttl time.Duration) *UserLockManager {
	return &UserLockManager{
		lockRepo:     lockRepo,
		ttl:          ttl,
		retryBackoff: 25 * time.Millisecond,
	}
}

// Acquire blocks until the user's lock is taken or ctx is done. The returned
// release func never fails; an expired lock is simply gone.
func (m *UserLockManager) Acquire(ctx context.Context, userID string) (func(), error) {
	key := "user:" + userID

	for {
		lock, err := m.lockRepo.AcquireLock(ctx, key, m.ttl)
		if err == nil {
			return func() {
				// The caller's ctx may already be cancelled
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = m.lockRepo.ReleaseLock(releaseCtx, lock)
			}, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for lock of user %s: %w", userID, ctx.Err())
		case <-time.After(m.retryBackoff):
		}
	}
}
