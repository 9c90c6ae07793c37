// Package loginguard counts failed credential checks per key and blocks a
// key once it reaches the configured maximum within a window.
package loginguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AttemptStore keeps failure counters that expire on their own. The window
// starts at the first failure and is not extended by later ones.
type AttemptStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

const keyPrefix = "loginguard:"

// RedisStore shares counters across instances.
type RedisStore struct {
	client *goredis.Client
}

func NewRedisStore(client *goredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := keyPrefix + key
	var incr *goredis.IntCmd
	var ttl *goredis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("loginguard: incr %s: %w", key, err)
	}
	// -1 means the key exists without an expiry: first failure, or a
	// previous EXPIRE that never landed.
	if ttl.Val() < 0 {
		if err := s.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("loginguard: expire %s: %w", key, err)
		}
	}
	return incr.Val(), nil
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, keyPrefix+key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loginguard: get %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("loginguard: del %s: %w", key, err)
	}
	return nil
}

type counter struct {
	n       int64
	expires time.Time
}

// MemoryStore is a per-process AttemptStore for tests and single-instance
// deployments without redis.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]*counter{}, now: time.Now}
}

// WithClock replaces the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := s.live(key, now)
	if c == nil {
		c = &counter{expires: now.Add(window)}
		s.counters[key] = c
	}
	c.n++
	return c.n, nil
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.live(key, s.now()); c != nil {
		return c.n, nil
	}
	return 0, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// live returns the counter for key, dropping it when expired. Callers hold mu.
func (s *MemoryStore) live(key string, now time.Time) *counter {
	c, ok := s.counters[key]
	if !ok {
		return nil
	}
	if !now.Before(c.expires) {
		delete(s.counters, key)
		return nil
	}
	return c
}
