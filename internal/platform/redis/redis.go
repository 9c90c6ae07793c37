package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
)

// NewClient returns nil when no address is configured; consumers fall back
// to in-process stores, which is only acceptable for a single instance.
func NewClient(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (*goredis.Client, error) {
	if cfg.Redis.Addr == "" {
		if cfg.Env == cfgpkg.EnvProd {
			l.Warnw("redis.addr is empty; login attempt tracking is per instance")
		}
		return nil, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis %s: ping failed: %w", cfg.Redis.Addr, err)
			}
			l.Infow("connected to redis", "addr", cfg.Redis.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			l.Infow("closing redis client")
			return client.Close()
		},
	})
	return client, nil
}

var Module = fx.Options(
	fx.Provide(NewClient),
)
