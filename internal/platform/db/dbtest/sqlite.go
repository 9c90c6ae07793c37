// Package dbtest opens migrated sqlite databases for package tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/invoicing/internal/models"
	"github.com/fatflowers/invoicing/internal/platform/db"
)

// New returns a fresh, migrated database backed by a file in t.TempDir().
// A single connection serializes transactions the way row locks do on
// postgres, so concurrency tests exercise the same code paths.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), db.GormConfig(zap.NewNop().Sugar(), gormlogger.Silent))
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(models.All()...))
	return gdb
}
