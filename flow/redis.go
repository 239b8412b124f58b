package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLockoutStore implements LockoutStore on Redis for multi-node
// deployments.
type RedisLockoutStore struct {
	client *redis.Client
	prefix string
}

// NewRedisLockoutStore creates a Redis-based lockout store.
func NewRedisLockoutStore(client *redis.Client, prefix string) *RedisLockoutStore {
	if prefix == "" {
		prefix = "auth3guard:lockout:"
	}
	return &RedisLockoutStore{client: client, prefix: prefix}
}

func (s *RedisLockoutStore) failureKey(key string) string {
	return s.prefix + "failures:" + key
}

func (s *RedisLockoutStore) lockKey(key string) string {
	return s.prefix + "locked:" + key
}

// RecordFailure increments the failure count atomically, starting the window
// on the first failure.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, ttl time.Duration) (int, error) {
	script := redis.NewScript(`
		local count = redis.call('INCR', KEYS[1])
		if count == 1 then
			redis.call('PEXPIRE', KEYS[1], ARGV[1])
		end
		return count
	`)

	result, err := script.Run(ctx, s.client, []string{s.failureKey(key)}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis lockout: record failure failed: %w", err)
	}
	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("redis lockout: unexpected result type")
	}
	return int(count), nil
}

func (s *RedisLockoutStore) ClearFailures(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.failureKey(key)).Err(); err != nil {
		return fmt.Errorf("redis lockout: clear failures failed: %w", err)
	}
	return nil
}

func (s *RedisLockoutStore) Lock(ctx context.Context, key string, duration time.Duration) error {
	lockedUntil := time.Now().Add(duration).Unix()
	if err := s.client.Set(ctx, s.lockKey(key), lockedUntil, duration).Err(); err != nil {
		return fmt.Errorf("redis lockout: lock failed: %w", err)
	}
	s.ClearFailures(ctx, key)
	return nil
}

func (s *RedisLockoutStore) IsLocked(ctx context.Context, key string) (bool, time.Time, error) {
	result, err := s.client.Get(ctx, s.lockKey(key)).Result()
	if err == redis.Nil {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("redis lockout: check lock failed: %w", err)
	}

	var lockedUntil int64
	if _, err := fmt.Sscanf(result, "%d", &lockedUntil); err != nil {
		return false, time.Time{}, fmt.Errorf("redis lockout: parse lock time failed: %w", err)
	}

	until := time.Unix(lockedUntil, 0)
	if time.Now().After(until) {
		// Key should have expired already.
		s.client.Del(ctx, s.lockKey(key))
		return false, time.Time{}, nil
	}
	return true, until, nil
}
