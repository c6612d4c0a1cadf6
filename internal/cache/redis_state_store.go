package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"mining-api/internal/models"
)

const (
	fieldLive       = "live"
	fieldOffline    = "offline"
	fieldCapturedAt = "captured_at"
)

// drainScript reads and deletes the pending hash in one step so a concurrent
// stage lands either before the drain or in a fresh hash after it. A user
// with deferred transaction records stays in the pending set.
var drainScript = redis.NewScript(`
	local values = redis.call("HGETALL", KEYS[1])
	redis.call("DEL", KEYS[1])
	if redis.call("EXISTS", KEYS[3]) == 0 then
		redis.call("SREM", KEYS[2], ARGV[1])
	end
	return values
`)

type redisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client, keyPrefix string) StateStore {
	return &redisStateStore{
		client: client,
		prefix: keyPrefix,
	}
}

func (s *redisStateStore) buildKey(parts ...string) string {
	key := s.prefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

func (s *redisStateStore) pendingKey(userID string) string {
	return s.buildKey("pending", userID)
}

func (s *redisStateStore) pendingUsersKey() string {
	return s.buildKey("pending", "users")
}

func (s *redisStateStore) deferredKey(userID string) string {
	return s.buildKey("deferred_tx", userID)
}

func (s *redisStateStore) StagePending(ctx context.Context, userID string, kind models.SourceKind, amount decimal.Decimal, capturedAt time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown source kind %q", kind)
	}

	key := s.pendingKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, string(kind), toUnits(amount))
		pipe.HSetNX(ctx, key, fieldCapturedAt, capturedAt.UnixMilli())
		pipe.SAdd(ctx, s.pendingUsersKey(), userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to stage pending earnings: %w", err)
	}
	return nil
}

func (s *redisStateStore) DrainPending(ctx context.Context, userID string) (models.PendingEarnings, error) {
	raw, err := drainScript.Run(ctx, s.client, []string{s.pendingKey(userID), s.pendingUsersKey(), s.deferredKey(userID)}, userID).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.PendingEarnings{}, fmt.Errorf("failed to drain pending earnings: %w", err)
	}

	fields := make(map[string]string, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		fields[raw[i]] = raw[i+1]
	}
	return parsePending(userID, fields)
}

func (s *redisStateStore) PeekPending(ctx context.Context, userID string) (models.PendingEarnings, error) {
	fields, err := s.client.HGetAll(ctx, s.pendingKey(userID)).Result()
	if err != nil {
		return models.PendingEarnings{}, fmt.Errorf("failed to read pending earnings: %w", err)
	}
	return parsePending(userID, fields)
}

func (s *redisStateStore) PendingUsers(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, s.pendingUsersKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending users: %w", err)
	}
	return users, nil
}

func (s *redisStateStore) DeferTransaction(ctx context.Context, tx *models.TransactionRecord) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction %s: %w", tx.TransactionID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.deferredKey(tx.UserID), tx.IdempotencyKey, payload)
		pipe.SAdd(ctx, s.pendingUsersKey(), tx.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to defer transaction %s: %w", tx.TransactionID, err)
	}
	return nil
}

func (s *redisStateStore) DeferredTransactions(ctx context.Context, userID string) ([]*models.TransactionRecord, error) {
	values, err := s.client.HGetAll(ctx, s.deferredKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred transactions: %w", err)
	}

	txs := make([]*models.TransactionRecord, 0, len(values))
	for key, payload := range values {
		var tx models.TransactionRecord
		if err := json.Unmarshal([]byte(payload), &tx); err != nil {
			return nil, fmt.Errorf("corrupt deferred transaction %s: %w", key, err)
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}

func (s *redisStateStore) RemoveTransaction(ctx context.Context, userID, idempotencyKey string) error {
	if err := s.client.HDel(ctx, s.deferredKey(userID), idempotencyKey).Err(); err != nil {
		return fmt.Errorf("failed to remove deferred transaction %s: %w", idempotencyKey, err)
	}
	return nil
}

func (s *redisStateStore) GetLastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	return s.getTime(ctx, s.buildKey("last_seen", userID))
}

func (s *redisStateStore) SetLastSeen(ctx context.Context, userID string, t time.Time) error {
	return s.setTime(ctx, s.buildKey("last_seen", userID), t)
}

func (s *redisStateStore) GetLastTick(ctx context.Context, userID string) (time.Time, bool, error) {
	return s.getTime(ctx, s.buildKey("last_tick", userID))
}

func (s *redisStateStore) SetLastTick(ctx context.Context, userID string, t time.Time) error {
	return s.setTime(ctx, s.buildKey("last_tick", userID), t)
}

func (s *redisStateStore) GetOfflineEnabled(ctx context.Context, userID string) (bool, bool, error) {
	val, err := s.client.Get(ctx, s.buildKey("offline_enabled", userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to read offline mining preference: %w", err)
	}

	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return false, false, fmt.Errorf("corrupt offline mining preference %q: %w", val, err)
	}
	return enabled, true, nil
}

func (s *redisStateStore) SetOfflineEnabled(ctx context.Context, userID string, enabled bool) error {
	err := s.client.Set(ctx, s.buildKey("offline_enabled", userID), strconv.FormatBool(enabled), 0).Err()
	if err != nil {
		return fmt.Errorf("failed to store offline mining preference: %w", err)
	}
	return nil
}

func (s *redisStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStateStore) getTime(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *redisStateStore) setTime(ctx context.Context, key string, t time.Time) error {
	if err := s.client.Set(ctx, key, t.UnixMilli(), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// parsePending decodes every field it can. Fields that fail are returned in
// a CorruptPendingError next to the partial result.
func parsePending(userID string, fields map[string]string) (models.PendingEarnings, error) {
	pending := models.PendingEarnings{
		UserID:  userID,
		Live:    decimal.Zero,
		Offline: decimal.Zero,
	}

	var corrupt map[string]string
	for field, val := range fields {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			if corrupt == nil {
				corrupt = make(map[string]string)
			}
			corrupt[field] = val
			continue
		}
		switch field {
		case fieldLive:
			pending.Live = fromUnits(n)
		case fieldOffline:
			pending.Offline = fromUnits(n)
		case fieldCapturedAt:
			pending.CapturedAt = time.UnixMilli(n).UTC()
		}
	}

	if corrupt != nil {
		return pending, &CorruptPendingError{UserID: userID, Fields: corrupt}
	}
	return pending, nil
}
