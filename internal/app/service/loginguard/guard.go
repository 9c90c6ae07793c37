package loginguard

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/internal/app/apperr"
	"github.com/fatflowers/invoicing/pkg/config"
)

const (
	defaultMaxFailures = 10
	defaultWindow      = 15 * time.Minute
)

type Guard struct {
	store  AttemptStore
	max    int64
	window time.Duration
	log    *zap.SugaredLogger
}

func NewGuard(cfg *config.Config, store AttemptStore, log *zap.SugaredLogger) *Guard {
	g := &Guard{store: store, max: cfg.Auth.MaxFailures, window: cfg.Auth.FailureWindow, log: log}
	if g.max <= 0 {
		g.max = defaultMaxFailures
	}
	if g.window <= 0 {
		g.window = defaultWindow
	}
	return g
}

// Check returns the current failure count for key, or ErrTooManyAttempts
// once it has reached the limit. Store errors fail open and are logged.
func (g *Guard) Check(ctx context.Context, key string) (int64, error) {
	n, err := g.store.Count(ctx, key)
	if err != nil {
		g.log.Warnw("attempt store unavailable, allowing request", "key", key, "err", err)
		return 0, nil
	}
	if n >= g.max {
		return n, fmt.Errorf("%s: %w", key, apperr.ErrTooManyAttempts)
	}
	return n, nil
}

// Fail records one failed attempt for key.
func (g *Guard) Fail(ctx context.Context, key string) {
	n, err := g.store.Incr(ctx, key, g.window)
	if err != nil {
		g.log.Warnw("attempt store unavailable, failure not counted", "key", key, "err", err)
		return
	}
	if n == g.max {
		g.log.Warnw("credential failures reached limit", "key", key, "failures", n, "window", g.window)
	}
}

// Succeed clears the failures recorded for key.
func (g *Guard) Succeed(ctx context.Context, key string) {
	if err := g.store.Reset(ctx, key); err != nil {
		g.log.Warnw("attempt store unavailable, failures not cleared", "key", key, "err", err)
	}
}

func newStore(client *goredis.Client, log *zap.SugaredLogger) AttemptStore {
	if client == nil {
		log.Infow("login guard using in-process attempt store")
		return NewMemoryStore()
	}
	return NewRedisStore(client)
}

var Module = fx.Options(
	fx.Provide(newStore, NewGuard),
)
