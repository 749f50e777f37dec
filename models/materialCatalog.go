package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaterialCatalogEntry is the canonical record of one material inside a tenant.
// Its identity is NameKey = lower(trim(Name)), enforced unique per tenant.
type MaterialCatalogEntry struct {
	ID               int             `gorm:"primary_key" json:"id"`
	TenantId         string          `gorm:"size:64;not null;index;uniqueIndex:idx_material_tenant_name,priority:1" json:"tenant_id"`
	Name             string          `gorm:"size:255;not null" json:"name"`
	NameKey          string          `gorm:"size:255;not null;uniqueIndex:idx_material_tenant_name,priority:2" json:"-"`
	Category         string          `gorm:"size:100" json:"category"`
	Unit             string          `gorm:"size:50" json:"unit"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	ConsumedQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"consumed_quantity"`
	StandardRate     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"standard_rate"`
	OpeningBalance   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"opening_balance"`
	DefaultSiteId    *int            `gorm:"index" json:"default_site_id"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// MaterialMerge is what one purchase contributes to the catalog.
type MaterialMerge struct {
	Name     string
	Unit     string
	Rate     decimal.Decimal
	Quantity decimal.Decimal
	Category string
	SiteId   *int
}

// FindMaterialByName matches on the normalized name (case-insensitive, trimmed).
// may return RecordNotFound
func FindMaterialByName(tx *gorm.DB, tenantId string, name string) (*MaterialCatalogEntry, error) {
	key := utils.NormalizeName(name)
	if key == "" {
		return nil, utils.ErrorRecordNotFound
	}
	var entry MaterialCatalogEntry
	err := tx.Where("tenant_id = ? AND name_key = ?", tenantId, key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// MergePurchaseIntoCatalog upserts the entry named m.Name.
//
// existing entry: quantity += m.Quantity, standard_rate = max(existing, m.Rate) when existing > 0, else m.Rate
// new entry:      quantity = m.Quantity, consumed = 0, standard_rate = m.Rate, opening_balance = 0
//
// The upsert is a single statement on the (tenant_id, name_key) unique index, so two
// concurrent first purchases of a name cannot create two entries.
func MergePurchaseIntoCatalog(tx *gorm.DB, tenantId string, m MaterialMerge) (*MaterialCatalogEntry, error) {
	name := strings.TrimSpace(m.Name)
	key := utils.NormalizeName(name)
	if key == "" {
		return nil, utils.FieldError("material_name", "required")
	}

	entry := MaterialCatalogEntry{
		TenantId:         tenantId,
		Name:             name,
		NameKey:          key,
		Category:         strings.TrimSpace(m.Category),
		Unit:             strings.TrimSpace(m.Unit),
		Quantity:         m.Quantity,
		ConsumedQuantity: decimal.Zero,
		StandardRate:     m.Rate,
		OpeningBalance:   decimal.Zero,
		DefaultSiteId:    m.SiteId,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "name_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":      gorm.Expr("quantity + ?", m.Quantity),
			"standard_rate": gorm.Expr("CASE WHEN standard_rate > 0 AND standard_rate > ? THEN standard_rate ELSE ? END", m.Rate, m.Rate),
			"updated_at":    time.Now().UTC(),
		}),
	}).Create(&entry).Error
	if err != nil {
		return nil, err
	}

	// the insert path and the update path both end here; read the row back by its identity
	return FindMaterialByName(tx, tenantId, key)
}

// ApplyOpeningBalanceDelta adds delta to the entry's opening balance (unallocated receipts).
func ApplyOpeningBalanceDelta(tx *gorm.DB, tenantId string, materialId int, delta decimal.Decimal) error {
	res := tx.Model(&MaterialCatalogEntry{}).
		Where("tenant_id = ? AND id = ?", tenantId, materialId).
		Updates(map[string]interface{}{
			"opening_balance": gorm.Expr("opening_balance + ?", delta),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return materialMustExist(tx, tenantId, materialId)
	}
	return nil
}

// SetOpeningBalance overwrites the entry's opening balance (resync from site allocations).
func SetOpeningBalance(tx *gorm.DB, tenantId string, materialId int, value decimal.Decimal) error {
	res := tx.Model(&MaterialCatalogEntry{}).
		Where("tenant_id = ? AND id = ?", tenantId, materialId).
		Updates(map[string]interface{}{
			"opening_balance": value,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return materialMustExist(tx, tenantId, materialId)
	}
	return nil
}

// mysql reports 0 affected rows when nothing changed, so a miss is confirmed with a count
func materialMustExist(tx *gorm.DB, tenantId string, materialId int) error {
	var count int64
	if err := tx.Model(&MaterialCatalogEntry{}).Where("tenant_id = ? AND id = ?", tenantId, materialId).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func GetMaterial(ctx context.Context, id int) (*MaterialCatalogEntry, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[MaterialCatalogEntry](ctx, tenantId, id)
}

func ListMaterials(ctx context.Context, name *string) ([]*MaterialCatalogEntry, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if name != nil && len(strings.TrimSpace(*name)) > 0 {
		dbCtx = dbCtx.Where("name_key LIKE ?", "%"+utils.NormalizeName(*name)+"%")
	}
	var results []*MaterialCatalogEntry
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
