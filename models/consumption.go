package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ConsumptionRecord is material used by a work activity. It references a purchase
// directly, or only a material; the latter is attributed to purchases by a strategy.
type ConsumptionRecord struct {
	ID             int              `gorm:"primary_key" json:"id"`
	TenantId       string           `gorm:"size:64;not null;index" json:"tenant_id"`
	WorkActivityId int              `gorm:"not null;index" json:"work_activity_id"`
	MaterialId     *int             `gorm:"index" json:"material_id"`
	PurchaseId     *int             `gorm:"index" json:"purchase_id"`
	MaterialName   string           `gorm:"size:255" json:"material_name"`
	Unit           string           `gorm:"size:50" json:"unit"`
	Quantity       decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	BalanceQty     *decimal.Decimal `gorm:"type:decimal(20,4)" json:"balance_quantity"`
	ConsumedAt     time.Time        `gorm:"index;not null" json:"consumed_at"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewConsumptionRecord struct {
	WorkActivityId int              `json:"work_activity_id"`
	PurchaseId     *int             `json:"purchase_id"`
	MaterialId     *int             `json:"material_id"`
	MaterialName   string           `json:"material_name"`
	Unit           string           `json:"unit"`
	Quantity       *decimal.Decimal `json:"quantity"`
	BalanceQty     *decimal.Decimal `json:"balance_quantity"`
	ConsumedAt     *utils.Date      `json:"consumed_at"`
}

func (input *NewConsumptionRecord) validate() error {
	c := utils.NewFieldChecker()
	if input.WorkActivityId <= 0 {
		c.Add("work_activity_id", "required")
	}
	c.RequiredDecimal("quantity", input.Quantity)
	c.Positive("quantity", input.Quantity)
	c.NonNegative("balance_quantity", input.BalanceQty)
	if input.PurchaseId == nil && input.MaterialId == nil && strings.TrimSpace(input.MaterialName) == "" {
		c.Add("material_id", "purchase_id, material_id or material_name is required")
	}
	return c.Err()
}

// CreateConsumptionRecords validates and inserts a batch atomically. A record naming a
// purchase inherits the purchase's material; a record naming only a material name
// is linked to the catalog entry of that name.
func CreateConsumptionRecords(ctx context.Context, inputs []*NewConsumptionRecord) ([]*ConsumptionRecord, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, utils.NewValidationError("at least one consumption record is required")
	}
	for i, input := range inputs {
		if input == nil {
			return nil, utils.NewValidationError(fmt.Sprintf("records[%d] is empty", i))
		}
		if err := input.validate(); err != nil {
			if ve, ok := err.(*utils.ValidationError); ok && len(inputs) > 1 {
				return nil, ve.Prefixed(fmt.Sprintf("records[%d]", i))
			}
			return nil, err
		}
	}

	db := config.GetDB()
	records := make([]*ConsumptionRecord, 0, len(inputs))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, input := range inputs {
			record, err := input.toRecord(tx, tenantId)
			if err != nil {
				if ve, ok := err.(*utils.ValidationError); ok && len(inputs) > 1 {
					return ve.Prefixed(fmt.Sprintf("records[%d]", i))
				}
				return err
			}
			records = append(records, record)
		}
		if err := tx.Create(&records).Error; err != nil {
			return err
		}

		consumedByMaterial := map[int]decimal.Decimal{}
		for _, r := range records {
			if r.MaterialId != nil {
				consumedByMaterial[*r.MaterialId] = consumedByMaterial[*r.MaterialId].Add(r.Quantity)
			}
		}
		for materialId, qty := range consumedByMaterial {
			err := tx.Model(&MaterialCatalogEntry{}).
				Where("tenant_id = ? AND id = ?", tenantId, materialId).
				Update("consumed_quantity", gorm.Expr("consumed_quantity + ?", qty)).Error
			if err != nil {
				return err
			}
		}
		for _, r := range records {
			description := fmt.Sprintf("Consumed %s %s of %s", r.Quantity.String(), r.Unit, r.MaterialName)
			if err := createHistory(tx, HistoryActionCreate, r.ID, ReferenceTypeConsumption, nil, r, description); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (input *NewConsumptionRecord) toRecord(tx *gorm.DB, tenantId string) (*ConsumptionRecord, error) {
	consumedAt := time.Now().UTC()
	if input.ConsumedAt.IsSet() {
		consumedAt = input.ConsumedAt.Time
	}
	record := &ConsumptionRecord{
		TenantId:       tenantId,
		WorkActivityId: input.WorkActivityId,
		PurchaseId:     input.PurchaseId,
		MaterialId:     input.MaterialId,
		MaterialName:   strings.TrimSpace(input.MaterialName),
		Unit:           strings.TrimSpace(input.Unit),
		Quantity:       *input.Quantity,
		BalanceQty:     input.BalanceQty,
		ConsumedAt:     consumedAt,
	}

	if input.PurchaseId != nil {
		purchase, err := utils.FetchModelTx[Purchase](tx, tenantId, *input.PurchaseId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, utils.FieldError("purchase_id", "not found")
			}
			return nil, err
		}
		if record.MaterialId == nil {
			record.MaterialId = purchase.MaterialId
		}
		if record.MaterialName == "" {
			record.MaterialName = purchase.MaterialName
		}
		if record.Unit == "" {
			record.Unit = purchase.Unit
		}
		return record, nil
	}

	if record.MaterialId != nil {
		entry, err := utils.FetchModelTx[MaterialCatalogEntry](tx, tenantId, *record.MaterialId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, utils.FieldError("material_id", "not found")
			}
			return nil, err
		}
		if record.MaterialName == "" {
			record.MaterialName = entry.Name
		}
		return record, nil
	}

	entry, err := FindMaterialByName(tx, tenantId, record.MaterialName)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.FieldError("material_name", "not found")
		}
		return nil, err
	}
	id := entry.ID
	record.MaterialId = &id
	record.MaterialName = entry.Name
	return record, nil
}

func ListConsumptionRecords(ctx context.Context, workActivityId *int, materialId *int) ([]*ConsumptionRecord, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	if workActivityId != nil {
		dbCtx = dbCtx.Where("work_activity_id = ?", *workActivityId)
	}
	if materialId != nil {
		dbCtx = dbCtx.Where("material_id = ?", *materialId)
	}
	var results []*ConsumptionRecord
	if err := dbCtx.Order("consumed_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

/* attribution */

// AttributionCandidate is one purchase competing for a material's unattributed consumption.
type AttributionCandidate struct {
	PurchaseId   int
	PurchaseDate time.Time
	Quantity     decimal.Decimal
	// consumption already recorded directly against this purchase
	Direct decimal.Decimal
}

// AttributionStrategy splits qty over candidates, ordered oldest first.
// The shares always sum to qty.
type AttributionStrategy interface {
	Name() string
	Attribute(candidates []AttributionCandidate, qty decimal.Decimal) map[int]decimal.Decimal
}

type FifoAttribution struct{}

type ProRataAttribution struct{}

type LatestAttribution struct{}

func (FifoAttribution) Name() string { return config.AttributionFifo }

// Attribute fills the oldest purchase's remaining capacity first. Anything left once every
// purchase is full lands on the most recent one.
func (FifoAttribution) Attribute(candidates []AttributionCandidate, qty decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(candidates))
	if len(candidates) == 0 {
		return out
	}
	left := qty
	for _, c := range candidates {
		capacity := utils.ClampZero(c.Quantity.Sub(c.Direct))
		take := decimal.Min(capacity, left)
		out[c.PurchaseId] = take
		left = left.Sub(take)
	}
	if left.IsPositive() {
		last := candidates[len(candidates)-1].PurchaseId
		out[last] = out[last].Add(left)
	}
	return out
}

func (ProRataAttribution) Name() string { return config.AttributionProRata }

// Attribute shares qty in proportion to purchase quantity, rounded to 4 places.
// The most recent purchase absorbs the rounding remainder.
func (ProRataAttribution) Attribute(candidates []AttributionCandidate, qty decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(candidates))
	if len(candidates) == 0 {
		return out
	}
	total := decimal.Zero
	for _, c := range candidates {
		total = total.Add(utils.ClampZero(c.Quantity))
	}
	last := candidates[len(candidates)-1].PurchaseId
	if !total.IsPositive() {
		for _, c := range candidates {
			out[c.PurchaseId] = decimal.Zero
		}
		out[last] = qty
		return out
	}
	assigned := decimal.Zero
	for _, c := range candidates[:len(candidates)-1] {
		share := qty.Mul(utils.ClampZero(c.Quantity)).Div(total).Round(4)
		out[c.PurchaseId] = share
		assigned = assigned.Add(share)
	}
	out[last] = qty.Sub(assigned)
	return out
}

func (LatestAttribution) Name() string { return config.AttributionLatest }

// Attribute gives everything to the most recent purchase.
func (LatestAttribution) Attribute(candidates []AttributionCandidate, qty decimal.Decimal) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(candidates))
	for _, c := range candidates {
		out[c.PurchaseId] = decimal.Zero
	}
	if len(candidates) > 0 {
		out[candidates[len(candidates)-1].PurchaseId] = qty
	}
	return out
}

func StrategyByName(name string) AttributionStrategy {
	switch name {
	case config.AttributionProRata:
		return ProRataAttribution{}
	case config.AttributionLatest:
		return LatestAttribution{}
	default:
		return FifoAttribution{}
	}
}

// StrategyFromConfig reads CONSUMPTION_ATTRIBUTION.
func StrategyFromConfig() AttributionStrategy {
	return StrategyByName(config.ConsumptionAttribution())
}

type purchaseSum struct {
	PurchaseId int
	Total      decimal.Decimal
}

type materialSum struct {
	MaterialId int
	Total      decimal.Decimal
}

// AggregateConsumption computes live consumed quantities for purchases.
//
// Records naming a purchase count toward it directly. Records naming only a material are
// attributed across all the tenant's purchases of that material, not only the ones passed
// in. The result has an entry for every given purchase that is referenced directly or whose
// material has such records; other purchases are absent so callers fall back to stored counters.
func AggregateConsumption(db *gorm.DB, tenantId string, purchases []*Purchase, strategy AttributionStrategy) (map[int]decimal.Decimal, error) {
	result := map[int]decimal.Decimal{}
	if len(purchases) == 0 {
		return result, nil
	}
	if strategy == nil {
		strategy = FifoAttribution{}
	}

	purchaseIds := make([]int, 0, len(purchases))
	materialIds := []int{}
	for _, p := range purchases {
		purchaseIds = append(purchaseIds, p.ID)
		if p.MaterialId != nil {
			materialIds = append(materialIds, *p.MaterialId)
		}
	}
	materialIds = utils.UniqueSlice(materialIds)

	// unattributed consumption per material
	fallback := map[int]decimal.Decimal{}
	if len(materialIds) > 0 {
		var sums []materialSum
		err := db.Model(&ConsumptionRecord{}).
			Select("material_id, COALESCE(SUM(quantity), 0) AS total").
			Where("tenant_id = ? AND purchase_id IS NULL AND material_id IN ?", tenantId, materialIds).
			Group("material_id").
			Scan(&sums).Error
		if err != nil {
			return nil, err
		}
		for _, s := range sums {
			if s.Total.IsPositive() {
				fallback[s.MaterialId] = s.Total
			}
		}
	}

	// every purchase of a material with fallback consumption competes for it
	var candidates []*Purchase
	if len(fallback) > 0 {
		fallbackMaterials := make([]int, 0, len(fallback))
		for id := range fallback {
			fallbackMaterials = append(fallbackMaterials, id)
		}
		err := db.Select("id, material_id, quantity, purchase_date").
			Where("tenant_id = ? AND material_id IN ?", tenantId, fallbackMaterials).
			Find(&candidates).Error
		if err != nil {
			return nil, err
		}
	}

	directIds := append([]int{}, purchaseIds...)
	for _, c := range candidates {
		directIds = append(directIds, c.ID)
	}
	directIds = utils.UniqueSlice(directIds)

	direct := map[int]decimal.Decimal{}
	var sums []purchaseSum
	err := db.Model(&ConsumptionRecord{}).
		Select("purchase_id, COALESCE(SUM(quantity), 0) AS total").
		Where("tenant_id = ? AND purchase_id IN ?", tenantId, directIds).
		Group("purchase_id").
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	for _, s := range sums {
		direct[s.PurchaseId] = s.Total
	}

	shares := map[int]decimal.Decimal{}
	byMaterial := map[int][]AttributionCandidate{}
	for _, c := range candidates {
		if c.MaterialId == nil {
			continue
		}
		byMaterial[*c.MaterialId] = append(byMaterial[*c.MaterialId], AttributionCandidate{
			PurchaseId:   c.ID,
			PurchaseDate: c.PurchaseDate,
			Quantity:     c.Quantity,
			Direct:       direct[c.ID],
		})
	}
	for materialId, list := range byMaterial {
		sort.SliceStable(list, func(i, j int) bool {
			if !list[i].PurchaseDate.Equal(list[j].PurchaseDate) {
				return list[i].PurchaseDate.Before(list[j].PurchaseDate)
			}
			return list[i].PurchaseId < list[j].PurchaseId
		})
		for id, share := range strategy.Attribute(list, fallback[materialId]) {
			shares[id] = share
		}
	}

	for _, p := range purchases {
		d, hasDirect := direct[p.ID]
		_, hasFallback := shares[p.ID]
		if !hasDirect && !hasFallback {
			continue
		}
		result[p.ID] = d.Add(shares[p.ID])
	}
	return result, nil
}

// RefreshPurchaseConsumption rewrites the stored consumed/remaining counters of every
// purchase of the tenant from live aggregation, and the catalog consumed counters from
// the records. It returns the number of purchases whose counters changed.
func RefreshPurchaseConsumption(ctx context.Context, db *gorm.DB, tenantId string, strategy AttributionStrategy, dryRun bool) (int, error) {
	var purchases []*Purchase
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantId).Order("id").Find(&purchases).Error; err != nil {
		return 0, err
	}

	live, err := AggregateConsumption(db.WithContext(ctx), tenantId, purchases, strategy)
	if err != nil {
		return 0, err
	}

	changed := 0
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range purchases {
			consumed := p.ConsumedQuantity
			if v, ok := live[p.ID]; ok {
				consumed = v
			}
			remaining := utils.ClampZero(p.Quantity.Sub(consumed))
			if consumed.Equal(p.ConsumedQuantity) && p.RemainingQuantity != nil && remaining.Equal(*p.RemainingQuantity) {
				continue
			}
			changed++
			if dryRun {
				continue
			}
			err := tx.Model(&Purchase{}).
				Where("tenant_id = ? AND id = ?", tenantId, p.ID).
				Updates(map[string]interface{}{
					"consumed_quantity":  consumed,
					"remaining_quantity": remaining,
				}).Error
			if err != nil {
				return err
			}
		}
		if dryRun {
			return nil
		}

		var sums []materialSum
		err := tx.Model(&ConsumptionRecord{}).
			Select("material_id, COALESCE(SUM(quantity), 0) AS total").
			Where("tenant_id = ? AND material_id IS NOT NULL", tenantId).
			Group("material_id").
			Scan(&sums).Error
		if err != nil {
			return err
		}
		for _, s := range sums {
			err := tx.Model(&MaterialCatalogEntry{}).
				Where("tenant_id = ? AND id = ?", tenantId, s.MaterialId).
				Update("consumed_quantity", s.Total).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
