package loginguard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{Auth: config.AuthConfig{MaxFailures: 3, FailureWindow: time.Minute}}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_WindowStartsAtFirstFailure(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	n, err := s.Incr(ctx, "1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, time.Minute, mr.TTL(keyPrefix+"1.2.3.4"))

	mr.FastForward(30 * time.Second)
	n, err = s.Incr(ctx, "1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 30*time.Second, mr.TTL(keyPrefix+"1.2.3.4"))

	mr.FastForward(31 * time.Second)
	n, err = s.Count(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRedisStore_Reset(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	_, err := s.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "k"))
	n, err := s.Count(ctx, "k")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Incr(ctx, "k", time.Minute)
		require.NoError(t, err)
	}
	n, _ := s.Count(ctx, "k")
	require.EqualValues(t, 2, n)

	now = now.Add(time.Minute)
	n, _ = s.Count(ctx, "k")
	require.Zero(t, n)
	n, _ = s.Incr(ctx, "k", time.Minute)
	require.EqualValues(t, 1, n)
}

func TestGuard(t *testing.T) {
	stores := map[string]func(t *testing.T) AttemptStore{
		"memory": func(*testing.T) AttemptStore { return NewMemoryStore() },
		"redis": func(t *testing.T) AttemptStore {
			s, _ := newRedisStore(t)
			return s
		},
	}
	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			g := NewGuard(testConfig(), mk(t), zap.NewNop().Sugar())
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				_, err := g.Check(ctx, "ip")
				require.NoError(t, err)
				g.Fail(ctx, "ip")
			}
			n, err := g.Check(ctx, "ip")
			require.ErrorIs(t, err, apperr.ErrTooManyAttempts)
			require.EqualValues(t, 3, n)

			_, err = g.Check(ctx, "other-ip")
			require.NoError(t, err)

			g.Succeed(ctx, "ip")
			_, err = g.Check(ctx, "ip")
			require.NoError(t, err)
		})
	}
}

func TestGuard_StoreDownFailsOpen(t *testing.T) {
	s, mr := newRedisStore(t)
	g := NewGuard(testConfig(), s, zap.NewNop().Sugar())
	mr.Close()

	g.Fail(context.Background(), "ip")
	_, err := g.Check(context.Background(), "ip")
	require.NoError(t, err)
}

func TestNewStore_FallsBackWithoutRedis(t *testing.T) {
	require.IsType(t, &MemoryStore{}, newStore(nil, zap.NewNop().Sugar()))
}
