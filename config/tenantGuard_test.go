package config_test

import (
	"context"
	"testing"

	"github.com/mmdatafocus/sitestock_backend/appctx"
	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type guardedRow struct {
	ID       int    `gorm:"primary_key"`
	TenantId string `gorm:"size:64"`
	Label    string
}

func guardedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:tenant_guard_test?mode=memory&cache=shared"), config.GormConfig())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Use(config.NewTenantGuardPlugin()))
	require.NoError(t, db.Migrator().DropTable(&guardedRow{}))
	require.NoError(t, db.AutoMigrate(&guardedRow{}))
	require.NoError(t, db.Create(&[]guardedRow{
		{TenantId: "tenant-a", Label: "a1"},
		{TenantId: "tenant-a", Label: "a2"},
		{TenantId: "tenant-b", Label: "b1"},
	}).Error)
	return db
}

func TestTenantGuard(t *testing.T) {
	db := guardedDB(t)
	tenantA := appctx.Set(context.Background(), appctx.ContextKeyTenantId, "tenant-a")

	var rows []guardedRow
	require.NoError(t, db.WithContext(tenantA).Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "a1", rows[0].Label)

	var count int64
	require.NoError(t, db.WithContext(tenantA).Model(&guardedRow{}).Where("label = ?", "b1").Count(&count).Error)
	assert.Equal(t, int64(0), count, "other tenant's rows are invisible")

	// an explicit tenant filter is left alone
	require.NoError(t, db.WithContext(tenantA).Where("tenant_id = ?", "tenant-b").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "b1", rows[0].Label)

	// updates and deletes are scoped too
	require.NoError(t, db.WithContext(tenantA).Model(&guardedRow{}).Where("label <> ?", "").Update("label", "x").Error)
	require.NoError(t, db.WithContext(tenantA).Where("label = ?", "x").Delete(&guardedRow{}).Error)
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "b1", rows[0].Label)

	// no tenant, or an explicit skip, sees everything
	require.NoError(t, db.Create(&guardedRow{TenantId: "tenant-a", Label: "a3"}).Error)
	skip := appctx.Set(tenantA, appctx.ContextKeySkipTenantScope, true)
	require.NoError(t, db.WithContext(skip).Find(&rows).Error)
	assert.Len(t, rows, 2)
}
