package models_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fatflowers/invoicing/internal/models"
)

func TestAutoMigrate_AllModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	gdb, err := gorm.Open(sqlite.Open("file:"+path), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(models.All()...))
	// a restart migrates an existing schema
	require.NoError(t, gdb.AutoMigrate(models.All()...))

	m := gdb.Migrator()
	require.True(t, m.HasIndex(&models.Payment{}, "idx_payment_tenant_id_id"))
	require.True(t, m.HasIndex(&models.ActivityLog{}, "idx_activity_tenant_id_id"))
	require.True(t, m.HasIndex(&models.ActivityLog{}, "idx_activity_entity"))
	require.True(t, m.HasIndex(&models.Invoice{}, "idx_invoice_status_due"))
	require.True(t, m.HasIndex(&models.ProcessedEvent{}, "uniq_source_event_id"))
}
