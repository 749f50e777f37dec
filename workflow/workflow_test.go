package workflow_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/testutil"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/mmdatafocus/sitestock_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const tenantA = "tenant-a"

func setup(t *testing.T) context.Context {
	t.Helper()
	testutil.UseSQLite(t)
	config.UseRedis(nil)
	require.NoError(t, models.MigrateTable())
	return testutil.TenantContext(tenantA, string(models.UserRoleAdmin))
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func purchase(t *testing.T, ctx context.Context, name string, qty string) *models.Purchase {
	t.Helper()
	p, err := models.CreatePurchase(ctx, &models.NewPurchase{
		MaterialName: name,
		Site:         "Yard",
		Quantity:     dec(qty),
		UnitRate:     dec("1"),
	})
	require.NoError(t, err)
	return p
}

func receipt(t *testing.T, ctx context.Context, materialName string, site models.SiteRef, qty string) (*models.Receipt, *models.OpeningBalancePush) {
	t.Helper()
	created, err := models.CreateReceipts(ctx, []*models.NewReceipt{{
		ReceiptDate:   utils.NewDate(time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)),
		VehicleNumber: "MDY-77",
		MaterialName:  materialName,
		FilledWeight:  dec("500"),
		EmptyWeight:   dec("200"),
		Quantity:      dec(qty),
		Site:          site,
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	pushes, err := models.ListReceiptPushes(ctx, config.GetDB(), created[0].ID)
	require.NoError(t, err)
	require.Len(t, pushes, 1)
	return created[0], pushes[0]
}

func makeDue(t *testing.T, pushId int) {
	t.Helper()
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, config.GetDB().Model(&models.OpeningBalancePush{}).
		Where("id = ?", pushId).Update("next_attempt_at", past).Error)
}

func TestOpeningBalanceRetryProcessor_AppliesDuePushes(t *testing.T) {
	ctx := setup(t)
	db := config.GetDB()
	processor := workflow.NewOpeningBalanceRetryProcessor(db, config.GetLogger())

	_, push := receipt(t, ctx, "Lime", models.SiteRef{Unallocated: true}, "25")
	require.Equal(t, models.PushStatusFailed, push.Status)

	// backoff not elapsed
	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))

	p := purchase(t, ctx, "Lime", "100")
	makeDue(t, push.ID)
	assert.Equal(t, 1, processor.ProcessOnce(context.Background()))

	got, err := models.GetOpeningBalancePush(ctx, db, push.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushStatusSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.LockedBy)

	entry, err := models.GetMaterial(ctx, *p.MaterialId)
	require.NoError(t, err)
	requireDecimal(t, "25", entry.OpeningBalance)

	// nothing left to claim, and a second pass never re-applies
	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))
	entry, err = models.GetMaterial(ctx, *p.MaterialId)
	require.NoError(t, err)
	requireDecimal(t, "25", entry.OpeningBalance)
}

func TestOpeningBalanceRetryProcessor_SkipsFreshLocks(t *testing.T) {
	ctx := setup(t)
	db := config.GetDB()
	processor := workflow.NewOpeningBalanceRetryProcessor(db, config.GetLogger())

	_, push := receipt(t, ctx, "Gravel", models.SiteRef{Unallocated: true}, "5")
	purchase(t, ctx, "Gravel", "10")
	makeDue(t, push.ID)

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.OpeningBalancePush{}).Where("id = ?", push.ID).
		Updates(map[string]interface{}{"locked_at": &now, "locked_by": "other-worker"}).Error)
	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))

	stale := now.Add(-2 * processor.LockTTL)
	require.NoError(t, db.Model(&models.OpeningBalancePush{}).Where("id = ?", push.ID).
		Update("locked_at", &stale).Error)
	assert.Equal(t, 1, processor.ProcessOnce(context.Background()))
}

func TestOpeningBalanceRetryProcessor_RecordsRepeatedFailure(t *testing.T) {
	ctx := setup(t)
	db := config.GetDB()
	processor := workflow.NewOpeningBalanceRetryProcessor(db, config.GetLogger())

	_, push := receipt(t, ctx, "Unobtainium", models.SiteRef{Unallocated: true}, "5")
	makeDue(t, push.ID)
	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))

	got, err := models.GetOpeningBalancePush(ctx, db, push.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.LockedAt)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.After(time.Now().UTC()))
}

func TestReconcileOpeningBalances(t *testing.T) {
	ctx := setup(t)
	db := config.GetDB()
	site, err := models.CreateSite(ctx, &models.NewSite{Name: "Tower"})
	require.NoError(t, err)
	cement := purchase(t, ctx, "Cement", "100")
	sand := purchase(t, ctx, "Sand", "100")

	receipt(t, ctx, "Cement", models.SiteRefId(site.ID), "20")
	receipt(t, ctx, "Sand", models.SiteRef{Unallocated: true}, "7")

	// corrupt the catalog value of the site-allocated material
	require.NoError(t, models.SetOpeningBalance(db, tenantA, *cement.MaterialId, decimal.NewFromInt(3)))

	drifts, err := workflow.ReconcileOpeningBalances(context.Background(), db, config.GetLogger(), tenantA, true)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, *cement.MaterialId, drifts[0].MaterialId)
	assert.Equal(t, "Cement", drifts[0].MaterialName)
	requireDecimal(t, "3", drifts[0].CatalogBalance)
	requireDecimal(t, "20", drifts[0].AllocationTotal)
	requireDecimal(t, "17", drifts[0].Difference)
	assert.False(t, drifts[0].Fixed)

	entry, err := models.GetMaterial(ctx, *cement.MaterialId)
	require.NoError(t, err)
	requireDecimal(t, "3", entry.OpeningBalance)

	drifts, err = workflow.ReconcileOpeningBalances(context.Background(), db, config.GetLogger(), "", false)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.True(t, drifts[0].Fixed)

	entry, err = models.GetMaterial(ctx, *cement.MaterialId)
	require.NoError(t, err)
	requireDecimal(t, "20", entry.OpeningBalance)
	// unallocated material untouched
	entry, err = models.GetMaterial(ctx, *sand.MaterialId)
	require.NoError(t, err)
	requireDecimal(t, "7", entry.OpeningBalance)

	drifts, err = workflow.ReconcileOpeningBalances(context.Background(), db, config.GetLogger(), tenantA, false)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestWriteDriftReport(t *testing.T) {
	drifts := []workflow.OpeningBalanceDrift{{
		TenantId:        tenantA,
		MaterialId:      4,
		MaterialName:    "Cement",
		CatalogBalance:  decimal.NewFromInt(3),
		AllocationTotal: decimal.NewFromInt(20),
		Difference:      decimal.NewFromInt(17),
		Fixed:           true,
	}}

	path := filepath.Join(t.TempDir(), "drift.xlsx")
	require.NoError(t, workflow.WriteDriftReport(drifts, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	heading, err := f.GetCellValue("Drift", "A1")
	require.NoError(t, err)
	assert.Equal(t, "TenantId", heading)
	name, err := f.GetCellValue("Drift", "C2")
	require.NoError(t, err)
	assert.Equal(t, "Cement", name)
	diff, err := f.GetCellValue("Drift", "F2")
	require.NoError(t, err)
	assert.Equal(t, "17", diff)

	var buf bytes.Buffer
	require.NoError(t, workflow.WriteDriftReportTo(drifts, &buf))
	assert.NotZero(t, buf.Len())
}

func TestRefreshConsumption(t *testing.T) {
	ctx := setup(t)
	ctxB := testutil.TenantContext("tenant-b", string(models.UserRoleAdmin))
	p := purchase(t, ctx, "Cement", "10")
	purchase(t, ctxB, "Cement", "10")

	_, err := models.CreateConsumptionRecords(ctx, []*models.NewConsumptionRecord{
		{WorkActivityId: 1, MaterialId: p.MaterialId, Quantity: dec("4")},
	})
	require.NoError(t, err)

	changed, err := workflow.RefreshConsumption(context.Background(), config.GetDB(), config.GetLogger(), "", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{tenantA: 1, "tenant-b": 0}, changed)

	got, err := models.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	requireDecimal(t, "4", got.ConsumedQuantity)
	requireDecimal(t, "6", *got.RemainingQuantity)
}

func TestRequeueDeadPushes(t *testing.T) {
	t.Setenv("OB_PUSH_MAX_ATTEMPTS", "1")
	ctx := setup(t)
	db := config.GetDB()

	_, alive := receipt(t, ctx, "Lime", models.SiteRef{Unallocated: true}, "3")
	deleted, gone := receipt(t, ctx, "Lime", models.SiteRef{Unallocated: true}, "4")
	require.Equal(t, models.PushStatusDead, alive.Status)
	require.Equal(t, models.PushStatusDead, gone.Status)
	_, err := models.DeleteReceipt(ctx, deleted.ID)
	require.NoError(t, err)

	n, err := workflow.RequeueDeadPushes(context.Background(), db, config.GetLogger(), tenantA, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := models.GetOpeningBalancePush(ctx, db, alive.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushStatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)

	got, err = models.GetOpeningBalancePush(ctx, db, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PushStatusDead, got.Status)
}
