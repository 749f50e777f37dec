package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Purchase struct {
	ID                int              `gorm:"primary_key" json:"id"`
	TenantId          string           `gorm:"size:64;not null;index" json:"tenant_id"`
	MaterialId        *int             `gorm:"index" json:"material_id"`
	MaterialName      string           `gorm:"size:255;not null" json:"material_name"`
	Category          string           `gorm:"size:100" json:"category"`
	SiteId            *int             `gorm:"index" json:"site_id"`
	SiteName          *string          `gorm:"size:255" json:"site_name"`
	Quantity          decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	Unit              string           `gorm:"size:50" json:"unit"`
	UnitRate          decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"unit_rate"`
	TotalAmount       decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	VendorId          *int             `gorm:"index" json:"vendor_id"`
	VendorName        string           `gorm:"size:255" json:"vendor_name"`
	InvoiceRef        string           `gorm:"size:100" json:"invoice_ref"`
	PurchaseDate      time.Time        `gorm:"index;not null" json:"purchase_date"`
	ConsumedQuantity  decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"consumed_quantity"`
	RemainingQuantity *decimal.Decimal `gorm:"type:decimal(20,4)" json:"remaining_quantity"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchase struct {
	MaterialName string           `json:"material_name" binding:"required"`
	Site         string           `json:"site" binding:"required"`
	Category     string           `json:"category"`
	Quantity     *decimal.Decimal `json:"quantity" binding:"required"`
	Unit         string           `json:"unit"`
	UnitRate     *decimal.Decimal `json:"unit_rate" binding:"required"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	VendorId     *int             `json:"vendor_id"`
	VendorName   string           `json:"vendor_name"`
	InvoiceRef   string           `json:"invoice_ref"`
	PurchaseDate *utils.Date      `json:"purchase_date"`
}

// PurchasePatch carries only the fields to change.
type PurchasePatch struct {
	MaterialName      *string          `json:"material_name"`
	Site              *string          `json:"site"`
	Category          *string          `json:"category"`
	Quantity          *decimal.Decimal `json:"quantity"`
	Unit              *string          `json:"unit"`
	UnitRate          *decimal.Decimal `json:"unit_rate"`
	TotalAmount       *decimal.Decimal `json:"total_amount"`
	VendorId          *int             `json:"vendor_id"`
	VendorName        *string          `json:"vendor_name"`
	InvoiceRef        *string          `json:"invoice_ref"`
	PurchaseDate      *utils.Date      `json:"purchase_date"`
	ConsumedQuantity  *decimal.Decimal `json:"consumed_quantity"`
}

type PurchaseList struct {
	Purchases  []*Purchase `json:"purchases"`
	Pagination Pagination  `json:"pagination"`
}

func (input *NewPurchase) validate() error {
	c := utils.NewFieldChecker()
	c.Required("material_name", strings.TrimSpace(input.MaterialName) != "")
	c.Required("site", strings.TrimSpace(input.Site) != "")
	c.RequiredDecimal("quantity", input.Quantity)
	c.Positive("quantity", input.Quantity)
	c.RequiredDecimal("unit_rate", input.UnitRate)
	c.NonNegative("unit_rate", input.UnitRate)
	c.NonNegative("total_amount", input.TotalAmount)
	return c.Err()
}

func (input *PurchasePatch) validate() error {
	c := utils.NewFieldChecker()
	if input.MaterialName != nil {
		c.Required("material_name", strings.TrimSpace(*input.MaterialName) != "")
	}
	c.Positive("quantity", input.Quantity)
	c.NonNegative("unit_rate", input.UnitRate)
	c.NonNegative("total_amount", input.TotalAmount)
	c.NonNegative("consumed_quantity", input.ConsumedQuantity)
	if input.PurchaseDate != nil && !input.PurchaseDate.IsSet() {
		c.Add("purchase_date", "invalid")
	}
	return c.Err()
}

// CreatePurchase records a purchase and merges it into the material catalog.
// The merge and the purchase insert commit together.
func CreatePurchase(ctx context.Context, input *NewPurchase) (*Purchase, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	quantity := *input.Quantity
	rate := *input.UnitRate
	total := rate.Mul(quantity)
	if input.TotalAmount != nil {
		total = *input.TotalAmount
	}
	purchaseDate := time.Now().UTC()
	if input.PurchaseDate.IsSet() {
		purchaseDate = input.PurchaseDate.Time
	}
	// unknown or unallocated sites leave the purchase without a site
	siteId, siteName := ResolveSiteByName(ctx, tenantId, input.Site)
	remaining := quantity

	purchase := Purchase{
		TenantId:          tenantId,
		MaterialName:      strings.TrimSpace(input.MaterialName),
		Category:          strings.TrimSpace(input.Category),
		SiteId:            siteId,
		SiteName:          siteName,
		Quantity:          quantity,
		Unit:              strings.TrimSpace(input.Unit),
		UnitRate:          rate,
		TotalAmount:       total,
		VendorId:          input.VendorId,
		VendorName:        strings.TrimSpace(input.VendorName),
		InvoiceRef:        strings.TrimSpace(input.InvoiceRef),
		PurchaseDate:      purchaseDate,
		ConsumedQuantity:  decimal.Zero,
		RemainingQuantity: &remaining,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := MergePurchaseIntoCatalog(tx, tenantId, MaterialMerge{
			Name:     purchase.MaterialName,
			Unit:     purchase.Unit,
			Rate:     rate,
			Quantity: quantity,
			Category: purchase.Category,
			SiteId:   siteId,
		})
		if err != nil {
			return fmt.Errorf("merge into material catalog: %w", err)
		}
		purchase.MaterialId = &entry.ID

		if err := tx.Create(&purchase).Error; err != nil {
			return err
		}
		description := fmt.Sprintf("Purchased %s %s of %s", quantity.String(), purchase.Unit, purchase.MaterialName)
		return createHistory(tx, HistoryActionCreate, purchase.ID, ReferenceTypePurchase, nil, purchase, description)
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// UpdatePurchase applies patch. Total is recomputed when the rate changes without a new total,
// remaining is recomputed when the quantity changes.
func UpdatePurchase(ctx context.Context, id int, patch *PurchasePatch) (*Purchase, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}

	var siteId *int
	var siteName *string
	if patch.Site != nil {
		siteId, siteName = ResolveSiteByName(ctx, tenantId, *patch.Site)
	}

	db := config.GetDB()
	var result *Purchase
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldPurchase, err := utils.FetchModelForUpdate[Purchase](tx, tenantId, id)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		quantity := oldPurchase.Quantity
		rate := oldPurchase.UnitRate
		consumed := oldPurchase.ConsumedQuantity

		if patch.MaterialName != nil {
			updates["material_name"] = strings.TrimSpace(*patch.MaterialName)
		}
		if patch.Site != nil {
			updates["site_id"] = siteId
			updates["site_name"] = siteName
		}
		if patch.Category != nil {
			updates["category"] = strings.TrimSpace(*patch.Category)
		}
		if patch.Unit != nil {
			updates["unit"] = strings.TrimSpace(*patch.Unit)
		}
		if patch.VendorId != nil {
			updates["vendor_id"] = *patch.VendorId
		}
		if patch.VendorName != nil {
			updates["vendor_name"] = strings.TrimSpace(*patch.VendorName)
		}
		if patch.InvoiceRef != nil {
			updates["invoice_ref"] = strings.TrimSpace(*patch.InvoiceRef)
		}
		if patch.PurchaseDate != nil {
			updates["purchase_date"] = patch.PurchaseDate.Time
		}
		if patch.Quantity != nil {
			quantity = *patch.Quantity
			updates["quantity"] = quantity
		}
		if patch.UnitRate != nil {
			rate = *patch.UnitRate
			updates["unit_rate"] = rate
		}
		if patch.TotalAmount != nil {
			updates["total_amount"] = *patch.TotalAmount
		} else if patch.UnitRate != nil {
			updates["total_amount"] = rate.Mul(quantity)
		}
		if patch.ConsumedQuantity != nil {
			consumed = *patch.ConsumedQuantity
			updates["consumed_quantity"] = consumed
		}
		// remaining is derived; it follows quantity and consumed
		if patch.Quantity != nil || patch.ConsumedQuantity != nil {
			updates["remaining_quantity"] = utils.ClampZero(quantity.Sub(consumed))
		}

		if len(updates) > 0 {
			updates["updated_at"] = time.Now().UTC()
			if err := tx.Model(&Purchase{}).Where("tenant_id = ? AND id = ?", tenantId, id).Updates(updates).Error; err != nil {
				return err
			}
		}

		result, err = utils.FetchModelTx[Purchase](tx, tenantId, id)
		if err != nil {
			return err
		}
		return createHistory(tx, HistoryActionUpdate, id, ReferenceTypePurchase, oldPurchase, result, "Updated purchase of "+result.MaterialName)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePurchase removes the purchase. The catalog quantity it contributed is left as is.
func DeletePurchase(ctx context.Context, id int) (*Purchase, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var result *Purchase
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, err = utils.FetchModelForUpdate[Purchase](tx, tenantId, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(result).Error; err != nil {
			return err
		}
		return createHistory(tx, HistoryActionDelete, id, ReferenceTypePurchase, result, nil, "Deleted purchase of "+result.MaterialName)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	purchase, err := utils.FetchModel[Purchase](ctx, tenantId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	live, err := AggregateConsumption(db.WithContext(ctx), tenantId, []*Purchase{purchase}, StrategyFromConfig())
	if err != nil {
		return nil, err
	}
	purchase.applyConsumption(live)
	return purchase, nil
}

// ListPurchases returns one page, newest first, with live consumption overlaid.
func ListPurchases(ctx context.Context, page int, pageSize int) (*PurchaseList, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	pagination := NewPagination(page, pageSize)

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Purchase{}).Where("tenant_id = ?", tenantId)

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, err
	}
	pagination.setTotal(total)

	var purchases []*Purchase
	err = paginate(db.WithContext(ctx).Where("tenant_id = ?", tenantId), pagination).
		Order("purchase_date DESC, id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}

	live, err := AggregateConsumption(db.WithContext(ctx), tenantId, purchases, StrategyFromConfig())
	if err != nil {
		return nil, err
	}
	for _, p := range purchases {
		p.applyConsumption(live)
	}
	return &PurchaseList{Purchases: purchases, Pagination: pagination}, nil
}

// applyConsumption sets consumed/remaining for display.
// A live aggregate wins over the stored consumed counter; remaining is always max(0, quantity - consumed).
func (p *Purchase) applyConsumption(live map[int]decimal.Decimal) {
	if consumed, ok := live[p.ID]; ok {
		p.ConsumedQuantity = consumed
	}
	remaining := utils.ClampZero(p.Quantity.Sub(p.ConsumedQuantity))
	p.RemainingQuantity = &remaining
}
