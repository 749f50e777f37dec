package models_test

import (
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

func TestCreatePurchase_MergesCatalogByNormalizedName(t *testing.T) {
	ctx := setup(t)

	first := mustPurchase(t, ctx, "Cement", "Site A", "10", "100", nil)
	second := mustPurchase(t, ctx, "  cement ", "Site A", "5", "80", nil)

	require.NotNil(t, first.MaterialId)
	require.NotNil(t, second.MaterialId)
	assert.Equal(t, *first.MaterialId, *second.MaterialId)

	materials, err := models.ListMaterials(ctx, nil)
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.Equal(t, "Cement", materials[0].Name)
	assertDecimal(t, "15", materials[0].Quantity)
	assertDecimal(t, "100", materials[0].StandardRate)
	assertDecimal(t, "0", materials[0].OpeningBalance)
	assertDecimal(t, "0", materials[0].ConsumedQuantity)
}

func TestCreatePurchase_StandardRateTakesMaxOrIncomingWhenUnset(t *testing.T) {
	ctx := setup(t)

	p := mustPurchase(t, ctx, "Steel", "Site A", "1", "0", nil)
	assertDecimal(t, "0", catalogEntry(t, ctx, *p.MaterialId).StandardRate)

	mustPurchase(t, ctx, "steel", "Site A", "1", "50", nil)
	assertDecimal(t, "50", catalogEntry(t, ctx, *p.MaterialId).StandardRate)

	mustPurchase(t, ctx, "STEEL", "Site A", "1", "70", nil)
	assertDecimal(t, "70", catalogEntry(t, ctx, *p.MaterialId).StandardRate)

	mustPurchase(t, ctx, "Steel", "Site A", "1", "60", nil)
	entry := catalogEntry(t, ctx, *p.MaterialId)
	assertDecimal(t, "70", entry.StandardRate)
	assertDecimal(t, "4", entry.Quantity)
}

func TestCreatePurchase_TotalDefaultsToRateTimesQuantity(t *testing.T) {
	ctx := setup(t)

	p := mustPurchase(t, ctx, "Sand", "Site A", "4", "2.5", nil)
	assertDecimal(t, "10", p.TotalAmount)
	require.NotNil(t, p.RemainingQuantity)
	assertDecimal(t, "4", *p.RemainingQuantity)

	explicit, err := models.CreatePurchase(ctx, &models.NewPurchase{
		MaterialName: "Sand",
		Site:         "Site A",
		Quantity:     dec("4"),
		UnitRate:     dec("2.5"),
		TotalAmount:  dec("9"),
	})
	require.NoError(t, err)
	assertDecimal(t, "9", explicit.TotalAmount)
}

func TestCreatePurchase_ResolvesSiteFromDirectory(t *testing.T) {
	ctx := setup(t)
	site := mustSite(t, ctx, "North Tower")

	p := mustPurchase(t, ctx, "Brick", "north tower", "100", "1", nil)
	require.NotNil(t, p.SiteId)
	assert.Equal(t, site.ID, *p.SiteId)
	require.NotNil(t, p.SiteName)
	assert.Equal(t, "North Tower", *p.SiteName)

	// unknown and unallocated sites leave the purchase without a site
	q := mustPurchase(t, ctx, "Brick", "Somewhere Else", "1", "1", nil)
	assert.Nil(t, q.SiteId)
	assert.Nil(t, q.SiteName)
	u := mustPurchase(t, ctx, "Brick", "Unallocated", "1", "1", nil)
	assert.Nil(t, u.SiteId)
	assert.Nil(t, u.SiteName)

	moved, err := models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{Site: strPtr("nowhere")})
	require.NoError(t, err)
	assert.Nil(t, moved.SiteId)
	assert.Nil(t, moved.SiteName)
}

func TestCreatePurchase_ValidationWritesNothing(t *testing.T) {
	ctx := setup(t)

	cases := map[string]*models.NewPurchase{
		"missing name":     {Site: "A", Quantity: dec("1"), UnitRate: dec("1")},
		"missing site":     {MaterialName: "Cement", Quantity: dec("1"), UnitRate: dec("1")},
		"missing quantity": {MaterialName: "Cement", Site: "A", UnitRate: dec("1")},
		"zero quantity":    {MaterialName: "Cement", Site: "A", Quantity: dec("0"), UnitRate: dec("1")},
		"missing rate":     {MaterialName: "Cement", Site: "A", Quantity: dec("1")},
		"negative rate":    {MaterialName: "Cement", Site: "A", Quantity: dec("1"), UnitRate: dec("-1")},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := models.CreatePurchase(ctx, input)
			var ve *utils.ValidationError
			require.ErrorAs(t, err, &ve)
		})
	}

	materials, err := models.ListMaterials(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, materials)
	list, err := models.ListPurchases(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, list.Purchases)
}

func TestCreatePurchase_RequiresTenant(t *testing.T) {
	setup(t)
	_, err := models.CreatePurchase(testutil.TenantContext("", "Admin"), &models.NewPurchase{
		MaterialName: "Cement", Site: "A", Quantity: dec("1"), UnitRate: dec("1"),
	})
	assert.ErrorIs(t, err, utils.ErrorTenantRequired)
}

func TestUpdatePurchase_RecomputesTotalAndRemaining(t *testing.T) {
	ctx := setup(t)
	p := mustPurchase(t, ctx, "Cement", "A", "10", "100", nil)

	updated, err := models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{UnitRate: dec("120")})
	require.NoError(t, err)
	assertDecimal(t, "1200", updated.TotalAmount)

	updated, err = models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{ConsumedQuantity: dec("4")})
	require.NoError(t, err)
	assertDecimal(t, "4", updated.ConsumedQuantity)
	require.NotNil(t, updated.RemainingQuantity)
	assertDecimal(t, "6", *updated.RemainingQuantity)

	got, err := models.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assertDecimal(t, "6", *got.RemainingQuantity)
	list, err := models.ListPurchases(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Purchases, 1)
	assertDecimal(t, "6", *list.Purchases[0].RemainingQuantity)

	updated, err = models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{Quantity: dec("12")})
	require.NoError(t, err)
	require.NotNil(t, updated.RemainingQuantity)
	assertDecimal(t, "8", *updated.RemainingQuantity)
	// rate unchanged, total left as is
	assertDecimal(t, "1200", updated.TotalAmount)

	updated, err = models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{UnitRate: dec("10"), TotalAmount: dec("99")})
	require.NoError(t, err)
	assertDecimal(t, "99", updated.TotalAmount)

	_, err = models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{Quantity: dec("-1")})
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = models.UpdatePurchase(ctx, 9999, &models.PurchasePatch{UnitRate: dec("1")})
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestDeletePurchase(t *testing.T) {
	ctx := setup(t)
	p := mustPurchase(t, ctx, "Cement", "A", "10", "100", nil)

	deleted, err := models.DeletePurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, deleted.ID)

	_, err = models.GetPurchase(ctx, p.ID)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	// catalog quantity is not reversed
	assertDecimal(t, "10", catalogEntry(t, ctx, *p.MaterialId).Quantity)

	histories, err := models.GetHistories(ctx, &p.ID, strPtr(models.ReferenceTypePurchase))
	require.NoError(t, err)
	require.Len(t, histories, 2)
	assert.Equal(t, models.HistoryActionDelete, histories[0].ActionType)
}

func TestListPurchases_PaginatesNewestFirst(t *testing.T) {
	ctx := setup(t)
	for i := 1; i <= 5; i++ {
		mustPurchase(t, ctx, "Cement", "A", "1", "1", day(2025, time.January, i))
	}

	page1, err := models.ListPurchases(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1.Purchases, 2)
	assert.Equal(t, int64(5), page1.Pagination.Total)
	assert.Equal(t, 3, page1.Pagination.TotalPages)
	assert.Equal(t, 5, page1.Purchases[0].PurchaseDate.Day())
	assert.Equal(t, 4, page1.Purchases[1].PurchaseDate.Day())

	page3, err := models.ListPurchases(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3.Purchases, 1)
	assert.Equal(t, 1, page3.Purchases[0].PurchaseDate.Day())

	clamped, err := models.ListPurchases(ctx, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, clamped.Pagination.Page)
	assert.Equal(t, models.MaxPageSize, clamped.Pagination.PageSize)
}

func TestListPurchases_RemainingNeverNegative(t *testing.T) {
	ctx := setup(t)
	p := mustPurchase(t, ctx, "Cement", "A", "10", "1", nil)

	_, err := models.CreateConsumptionRecords(ctx, []*models.NewConsumptionRecord{
		{WorkActivityId: 1, PurchaseId: &p.ID, Quantity: dec("14")},
	})
	require.NoError(t, err)

	list, err := models.ListPurchases(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, list.Purchases, 1)
	assertDecimal(t, "14", list.Purchases[0].ConsumedQuantity)
	require.NotNil(t, list.Purchases[0].RemainingQuantity)
	assertDecimal(t, "0", *list.Purchases[0].RemainingQuantity)
}

func TestListPurchases_FallsBackToStoredCounters(t *testing.T) {
	ctx := setup(t)
	p := mustPurchase(t, ctx, "Cement", "A", "10", "1", nil)

	// no consumption records: stored counters are shown
	_, err := models.UpdatePurchase(ctx, p.ID, &models.PurchasePatch{ConsumedQuantity: dec("3")})
	require.NoError(t, err)

	got, err := models.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assertDecimal(t, "3", got.ConsumedQuantity)
	assertDecimal(t, "7", *got.RemainingQuantity)

	// a stale or missing stored remaining never leaks: derived from quantity - consumed
	require.NoError(t, config.GetDB().Model(&models.Purchase{}).Where("id = ?", p.ID).
		Update("remaining_quantity", decimal.NewFromInt(10)).Error)
	got, err = models.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assertDecimal(t, "7", *got.RemainingQuantity)

	require.NoError(t, config.GetDB().Model(&models.Purchase{}).Where("id = ?", p.ID).
		Update("remaining_quantity", nil).Error)
	got, err = models.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RemainingQuantity)
	assertDecimal(t, "7", *got.RemainingQuantity)
}

func TestPurchases_TenantIsolation(t *testing.T) {
	ctx := setup(t)
	ctxB := testutil.TenantContext(tenantB, string(models.UserRoleAdmin))

	p := mustPurchase(t, ctx, "Cement", "A", "10", "100", nil)
	q := mustPurchase(t, ctxB, "cement", "A", "3", "90", nil)

	assert.NotEqual(t, *p.MaterialId, *q.MaterialId)
	assertDecimal(t, "10", catalogEntry(t, ctx, *p.MaterialId).Quantity)
	assertDecimal(t, "3", catalogEntry(t, ctxB, *q.MaterialId).Quantity)

	_, err := models.GetPurchase(ctxB, p.ID)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
	_, err = models.GetMaterial(ctxB, *p.MaterialId)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)

	listB, err := models.ListPurchases(ctxB, 1, 10)
	require.NoError(t, err)
	require.Len(t, listB.Purchases, 1)
	assert.Equal(t, q.ID, listB.Purchases[0].ID)
}

func strPtr(s string) *string { return &s }
