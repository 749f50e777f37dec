package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OpeningBalanceDrift is a site-allocated material whose catalog opening balance
// differs from the sum of its site allocations.
type OpeningBalanceDrift struct {
	TenantId        string          `json:"tenant_id"`
	MaterialId      int             `json:"material_id"`
	MaterialName    string          `json:"material_name"`
	CatalogBalance  decimal.Decimal `json:"catalog_balance"`
	AllocationTotal decimal.Decimal `json:"allocation_total"`
	Difference      decimal.Decimal `json:"difference"`
	Fixed           bool            `json:"fixed"`
}

type allocationTotal struct {
	TenantId   string
	MaterialId int
	Total      decimal.Decimal
}

// ReconcileOpeningBalances compares every site-allocated material's catalog opening balance
// with its allocation total and, unless dryRun, rewrites the catalog value. An empty
// tenantId covers all tenants. Materials without allocation rows are left alone: their
// balance comes from unallocated receipts only.
func ReconcileOpeningBalances(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, dryRun bool) ([]OpeningBalanceDrift, error) {
	q := db.WithContext(ctx).Model(&models.SiteAllocation{}).
		Select("tenant_id, material_id, COALESCE(SUM(opening_balance), 0) AS total").
		Group("tenant_id, material_id")
	if tenantId != "" {
		q = q.Where("tenant_id = ?", tenantId)
	}
	var totals []allocationTotal
	if err := q.Scan(&totals).Error; err != nil {
		config.LogError(logger, "reconciliation.go", "ReconcileOpeningBalances", "summing site allocations", tenantId, err)
		return nil, err
	}

	drifts := []OpeningBalanceDrift{}
	for _, t := range totals {
		var entry models.MaterialCatalogEntry
		err := db.WithContext(ctx).
			Where("tenant_id = ? AND id = ?", t.TenantId, t.MaterialId).
			Limit(1).Find(&entry).Error
		if err != nil {
			config.LogError(logger, "reconciliation.go", "ReconcileOpeningBalances", "loading catalog entry", t, err)
			return nil, err
		}
		if entry.ID == 0 {
			// allocation of a deleted material
			continue
		}
		if entry.OpeningBalance.Equal(t.Total) {
			continue
		}
		drifts = append(drifts, OpeningBalanceDrift{
			TenantId:        t.TenantId,
			MaterialId:      t.MaterialId,
			MaterialName:    entry.Name,
			CatalogBalance:  entry.OpeningBalance,
			AllocationTotal: t.Total,
			Difference:      t.Total.Sub(entry.OpeningBalance),
		})
	}
	sort.SliceStable(drifts, func(i, j int) bool {
		if drifts[i].TenantId != drifts[j].TenantId {
			return drifts[i].TenantId < drifts[j].TenantId
		}
		return drifts[i].MaterialId < drifts[j].MaterialId
	})
	if dryRun {
		return drifts, nil
	}

	for i := range drifts {
		d := &drifts[i]
		release := utils.TryLock(ctx, utils.MaterialLockKey(d.TenantId, d.MaterialId), 10*time.Second)
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := utils.FetchModelForUpdate[models.MaterialCatalogEntry](tx, d.TenantId, d.MaterialId); err != nil {
				return err
			}
			// re-read under the row lock, a push may have landed since the scan
			total, err := models.TotalSiteOpeningBalance(tx, d.TenantId, d.MaterialId)
			if err != nil {
				return err
			}
			d.AllocationTotal = total
			d.Difference = total.Sub(d.CatalogBalance)
			return models.SetOpeningBalance(tx, d.TenantId, d.MaterialId, total)
		})
		release()
		if err != nil {
			config.LogError(logger, "reconciliation.go", "ReconcileOpeningBalances", "rewriting opening balance", d, err)
			return drifts, err
		}
		d.Fixed = true
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":            "ReconcileOpeningBalances",
				"tenant_id":        d.TenantId,
				"material_id":      d.MaterialId,
				"catalog_balance":  d.CatalogBalance.String(),
				"allocation_total": d.AllocationTotal.String(),
			}).Info("opening balance reconciled")
		}
	}
	return drifts, nil
}
