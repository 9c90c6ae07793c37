package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/invoicing/internal/models"
	cfgpkg "github.com/fatflowers/invoicing/pkg/config"
	gormzap "github.com/fatflowers/invoicing/pkg/gormlog"
)

// GormConfig is shared by the postgres connection and test databases.
// TranslateError maps unique violations to gorm.ErrDuplicatedKey, which the
// idempotency ledger relies on.
func GormConfig(l *zap.SugaredLogger, level gormlogger.LogLevel) *gorm.Config {
	return &gorm.Config{
		Logger:         gormzap.New(l, level),
		TranslateError: true,
	}
}

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	level := gormlogger.Info
	if cfg.Env == cfgpkg.EnvProd {
		level = gormlogger.Warn
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), GormConfig(l, level))
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to postgres via DSN")
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(AutoMigrate),
	fx.Invoke(registerDBClose),
)

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return fmt.Errorf("automigrate: %w", err)
	}
	l.Infow("automigrate completed")
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
