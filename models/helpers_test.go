package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/testutil"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

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

func day(y int, m time.Month, d int) *utils.Date {
	return utils.NewDate(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	w := decimal.RequireFromString(want)
	if !w.Equal(got) {
		assert.Failf(t, "decimal mismatch", "want %s, got %s", w.String(), got.String())
		if len(msgAndArgs) > 0 {
			t.Log(msgAndArgs...)
		}
	}
}

func mustPurchase(t *testing.T, ctx context.Context, name, site, qty, rate string, date *utils.Date) *models.Purchase {
	t.Helper()
	p, err := models.CreatePurchase(ctx, &models.NewPurchase{
		MaterialName: name,
		Site:         site,
		Quantity:     dec(qty),
		Unit:         "bag",
		UnitRate:     dec(rate),
		PurchaseDate: date,
	})
	require.NoError(t, err)
	return p
}

func mustSite(t *testing.T, ctx context.Context, name string) *models.Site {
	t.Helper()
	s, err := models.CreateSite(ctx, &models.NewSite{Name: name})
	require.NoError(t, err)
	return s
}

func newReceipt(materialId *int, materialName string, site models.SiteRef, qty string) *models.NewReceipt {
	return &models.NewReceipt{
		ReceiptDate:   day(2025, time.March, 1),
		VehicleNumber: "YGN-1234",
		MaterialId:    materialId,
		MaterialName:  materialName,
		FilledWeight:  dec("1000"),
		EmptyWeight:   dec("400"),
		Quantity:      dec(qty),
		Unit:          "bag",
		Site:          site,
	}
}

func catalogEntry(t *testing.T, ctx context.Context, id int) *models.MaterialCatalogEntry {
	t.Helper()
	entry, err := models.GetMaterial(ctx, id)
	require.NoError(t, err)
	return entry
}

func receiptPush(t *testing.T, ctx context.Context, receiptId int) *models.OpeningBalancePush {
	t.Helper()
	pushes, err := models.ListReceiptPushes(ctx, config.GetDB(), receiptId)
	require.NoError(t, err)
	require.Len(t, pushes, 1)
	return pushes[0]
}
