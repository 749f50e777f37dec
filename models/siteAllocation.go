package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SiteAllocation is one site's share of a material's opening balance.
type SiteAllocation struct {
	ID             int             `gorm:"primary_key" json:"id"`
	TenantId       string          `gorm:"size:64;not null;index;uniqueIndex:idx_site_allocation,priority:1" json:"tenant_id"`
	MaterialId     int             `gorm:"not null;index;uniqueIndex:idx_site_allocation,priority:2" json:"material_id"`
	SiteId         int             `gorm:"not null;uniqueIndex:idx_site_allocation,priority:3" json:"site_id"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AddSiteOpeningBalance inserts (material, site) with delta, or adds delta to the existing row.
func AddSiteOpeningBalance(tx *gorm.DB, tenantId string, materialId int, siteId int, delta decimal.Decimal) error {
	allocation := SiteAllocation{
		TenantId:       tenantId,
		MaterialId:     materialId,
		SiteId:         siteId,
		OpeningBalance: delta,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "material_id"}, {Name: "site_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"opening_balance": gorm.Expr("opening_balance + ?", delta),
			"updated_at":      time.Now().UTC(),
		}),
	}).Create(&allocation).Error
}

// TotalSiteOpeningBalance sums the opening balance of every allocation of the material.
func TotalSiteOpeningBalance(tx *gorm.DB, tenantId string, materialId int) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := tx.Model(&SiteAllocation{}).
		Select("COALESCE(SUM(opening_balance), 0)").
		Where("tenant_id = ? AND material_id = ?", tenantId, materialId).
		Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func GetSiteAllocation(tx *gorm.DB, tenantId string, materialId int, siteId int) (*SiteAllocation, error) {
	var allocation SiteAllocation
	err := tx.Where("tenant_id = ? AND material_id = ? AND site_id = ?", tenantId, materialId, siteId).
		Limit(1).Find(&allocation).Error
	if err != nil {
		return nil, err
	}
	if allocation.ID == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return &allocation, nil
}

func ListSiteAllocations(ctx context.Context, materialId int) ([]*SiteAllocation, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[MaterialCatalogEntry](ctx, tenantId, materialId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var results []*SiteAllocation
	err = db.WithContext(ctx).
		Where("tenant_id = ? AND material_id = ?", tenantId, materialId).
		Order("site_id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
