package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Receipt is a material receipt note: a weighed delivery arriving on site.
type Receipt struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:64;not null;index" json:"tenant_id"`
	ReceiptDate   time.Time       `gorm:"index;not null" json:"date"`
	VehicleNumber string          `gorm:"size:50;not null" json:"vehicle_number"`
	MaterialId    *int            `gorm:"index" json:"material_id"`
	MaterialName  string          `gorm:"size:255" json:"material_name"`
	FilledWeight  decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"filled_weight"`
	EmptyWeight   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"empty_weight"`
	NetWeight     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"net_weight"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	Unit          string          `gorm:"size:50" json:"unit"`
	VendorId      *int            `gorm:"index" json:"vendor_id"`
	VendorName    string          `gorm:"size:255" json:"vendor_name"`
	PurchaseId    *int            `gorm:"index" json:"purchase_id"`
	SiteId        *int            `gorm:"index" json:"site_id"`
	SiteName      *string         `gorm:"size:255" json:"site_name"`
	Remarks       string          `gorm:"type:text" json:"remarks"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SiteRef is the site a client names on a receipt. It accepts a numeric id,
// a numeric string, a site name, or "unallocated" / "" / null for no site.
type SiteRef struct {
	ID   *int
	Name string
	// set when the client explicitly sent no site
	Unallocated bool
}

func SiteRefId(id int) SiteRef { return SiteRef{ID: &id} }

func SiteRefName(name string) SiteRef { return SiteRef{Name: name} }

func (s *SiteRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*s = SiteRef{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		s.Unallocated = true
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		v = strings.TrimSpace(v)
		if IsUnallocatedSite(v) {
			s.Unallocated = true
			return nil
		}
		if id, err := strconv.Atoi(v); err == nil {
			s.ID = &id
			return nil
		}
		s.Name = v
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("site_id must be a number, a site name or %q", UnallocatedSite)
	}
	id, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("site_id must be an integer: %s", n.String())
	}
	s.ID = &id
	return nil
}

func (s SiteRef) MarshalJSON() ([]byte, error) {
	if s.ID != nil {
		return json.Marshal(*s.ID)
	}
	if s.Name != "" {
		return json.Marshal(s.Name)
	}
	return json.Marshal(UnallocatedSite)
}

func (s SiteRef) IsUnallocated() bool {
	return s.ID == nil && s.Name == ""
}

type NewReceipt struct {
	ReceiptDate   *utils.Date      `json:"date"`
	VehicleNumber string           `json:"vehicle_number"`
	MaterialId    *int             `json:"material_id"`
	MaterialName  string           `json:"material_name"`
	FilledWeight  *decimal.Decimal `json:"filled_weight"`
	EmptyWeight   *decimal.Decimal `json:"empty_weight"`
	NetWeight     *decimal.Decimal `json:"net_weight"`
	Quantity      *decimal.Decimal `json:"quantity"`
	Unit          string           `json:"unit"`
	VendorId      *int             `json:"vendor_id"`
	VendorName    string           `json:"vendor_name"`
	PurchaseId    *int             `json:"purchase_id"`
	Site          SiteRef          `json:"site_id"`
	SiteName      string           `json:"site_name"`
	Remarks       string           `json:"remarks"`
}

type ReceiptPatch struct {
	ReceiptDate   *utils.Date      `json:"date"`
	VehicleNumber *string          `json:"vehicle_number"`
	MaterialName  *string          `json:"material_name"`
	FilledWeight  *decimal.Decimal `json:"filled_weight"`
	EmptyWeight   *decimal.Decimal `json:"empty_weight"`
	NetWeight     *decimal.Decimal `json:"net_weight"`
	Quantity      *decimal.Decimal `json:"quantity"`
	Unit          *string          `json:"unit"`
	VendorId      *int             `json:"vendor_id"`
	VendorName    *string          `json:"vendor_name"`
	PurchaseId    *int             `json:"purchase_id"`
	Site          *SiteRef         `json:"site_id"`
	SiteName      *string          `json:"site_name"`
	Remarks       *string          `json:"remarks"`
}

// NetWeight is filled - empty.
func NetWeight(filled decimal.Decimal, empty decimal.Decimal) decimal.Decimal {
	return filled.Sub(empty)
}

func (input *NewReceipt) validate() error {
	c := utils.NewFieldChecker()
	c.Required("date", input.ReceiptDate.IsSet())
	c.Required("vehicle_number", strings.TrimSpace(input.VehicleNumber) != "")
	if input.MaterialId == nil && strings.TrimSpace(input.MaterialName) == "" {
		c.Add("material_id", "material_id or material_name is required")
	}
	c.RequiredDecimal("filled_weight", input.FilledWeight)
	c.NonNegative("filled_weight", input.FilledWeight)
	c.RequiredDecimal("empty_weight", input.EmptyWeight)
	c.NonNegative("empty_weight", input.EmptyWeight)
	c.RequiredDecimal("quantity", input.Quantity)
	c.NonNegative("quantity", input.Quantity)
	if input.FilledWeight != nil && input.EmptyWeight != nil {
		if NetWeight(*input.FilledWeight, *input.EmptyWeight).IsNegative() {
			c.Add("net_weight", "filled_weight - empty_weight must not be negative")
		}
	}
	c.NonNegative("net_weight", input.NetWeight)
	return c.Err()
}

// resolveMaterialId fills a missing material id from the catalog by name.
// An unknown name stays unresolved; the opening-balance push will then fail and be retried.
func resolveMaterialId(tx *gorm.DB, tenantId string, materialId *int, materialName string) (*int, string) {
	if materialId != nil {
		if strings.TrimSpace(materialName) == "" {
			if entry, err := utils.FetchModelTx[MaterialCatalogEntry](tx, tenantId, *materialId); err == nil {
				materialName = entry.Name
			}
		}
		return materialId, strings.TrimSpace(materialName)
	}
	entry, err := FindMaterialByName(tx, tenantId, materialName)
	if err != nil {
		return nil, strings.TrimSpace(materialName)
	}
	id := entry.ID
	return &id, entry.Name
}

// resolveReceiptSite turns a SiteRef into (site id, site name). Best effort.
func resolveReceiptSite(ctx context.Context, tenantId string, ref SiteRef, siteName string) (*int, *string) {
	if ref.ID != nil {
		id := *ref.ID
		if name := ResolveSiteById(ctx, tenantId, id); name != nil {
			return &id, name
		}
		// ids the directory does not know are unallocated
		return nil, nil
	}
	if ref.Unallocated {
		return nil, nil
	}
	name := ref.Name
	if name == "" {
		name = siteName
	}
	if IsUnallocatedSite(name) {
		return nil, nil
	}
	return ResolveSiteByName(ctx, tenantId, name)
}

type resolvedSite struct {
	id   *int
	name *string
}

func (input *NewReceipt) toReceipt(tx *gorm.DB, tenantId string, site resolvedSite) Receipt {
	filled := *input.FilledWeight
	empty := *input.EmptyWeight
	net := NetWeight(filled, empty)
	if input.NetWeight != nil {
		net = *input.NetWeight
	}
	materialId, materialName := resolveMaterialId(tx, tenantId, input.MaterialId, input.MaterialName)
	return Receipt{
		TenantId:      tenantId,
		ReceiptDate:   input.ReceiptDate.Time,
		VehicleNumber: strings.TrimSpace(input.VehicleNumber),
		MaterialId:    materialId,
		MaterialName:  materialName,
		FilledWeight:  filled,
		EmptyWeight:   empty,
		NetWeight:     net,
		Quantity:      *input.Quantity,
		Unit:          strings.TrimSpace(input.Unit),
		VendorId:      input.VendorId,
		VendorName:    strings.TrimSpace(input.VendorName),
		PurchaseId:    input.PurchaseId,
		SiteId:        site.id,
		SiteName:      site.name,
		Remarks:       input.Remarks,
	}
}

// CreateReceipts validates the whole batch first; one invalid receipt rejects all of them.
// Receipts and their opening-balance pushes are written in one transaction. The pushes are
// applied right after commit; a push that fails is left for the retry worker and never
// undoes the receipt.
func CreateReceipts(ctx context.Context, inputs []*NewReceipt) ([]*Receipt, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, utils.NewValidationError("at least one receipt is required")
	}
	for i, input := range inputs {
		if input == nil {
			return nil, utils.NewValidationError(fmt.Sprintf("receipts[%d] is empty", i))
		}
		if err := input.validate(); err != nil {
			if ve, ok := err.(*utils.ValidationError); ok && len(inputs) > 1 {
				return nil, ve.Prefixed(fmt.Sprintf("receipts[%d]", i))
			}
			return nil, err
		}
	}

	db := config.GetDB()
	logger := config.GetLogger()
	correlationId := correlationIdFromContextOrNew(ctx)

	// site lookups go through the cache and must not run inside the transaction
	sites := make([]resolvedSite, len(inputs))
	for i, input := range inputs {
		sites[i].id, sites[i].name = resolveReceiptSite(ctx, tenantId, input.Site, input.SiteName)
	}

	receipts := make([]*Receipt, 0, len(inputs))
	pushes := make([]*OpeningBalancePush, 0, len(inputs))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, input := range inputs {
			receipt := input.toReceipt(tx, tenantId, sites[i])
			receipts = append(receipts, &receipt)
		}
		if err := tx.Create(&receipts).Error; err != nil {
			return err
		}
		for _, receipt := range receipts {
			push := newOpeningBalancePush(receipt, correlationId)
			pushes = append(pushes, push)
			description := fmt.Sprintf("Received %s %s of %s (vehicle %s)", receipt.Quantity.String(), receipt.Unit, receipt.MaterialName, receipt.VehicleNumber)
			if err := createHistory(tx, HistoryActionCreate, receipt.ID, ReferenceTypeReceipt, nil, receipt, description); err != nil {
				return err
			}
		}
		return tx.Create(&pushes).Error
	})
	if err != nil {
		return nil, err
	}

	for _, push := range pushes {
		if err := ProcessOpeningBalancePush(ctx, db, logger, push.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "CreateReceipts",
				"tenant_id":      tenantId,
				"receipt_id":     push.ReceiptId,
				"push_id":        push.ID,
				"correlation_id": correlationId,
			}).Warn("opening balance push failed; left for retry: " + err.Error())
		}
	}
	return receipts, nil
}

// UpdateReceipt patches a receipt. Net weight is recomputed from the latest filled/empty pair
// when either changes and no explicit net weight is given. The opening balance is not re-pushed.
func UpdateReceipt(ctx context.Context, id int, patch *ReceiptPatch) (*Receipt, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	var siteId *int
	var siteName *string
	if patch.Site != nil || patch.SiteName != nil {
		ref := SiteRef{}
		if patch.Site != nil {
			ref = *patch.Site
		}
		siteId, siteName = resolveReceiptSite(ctx, tenantId, ref, utils.DereferencePtr(patch.SiteName))
	}

	db := config.GetDB()
	var result *Receipt
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		oldReceipt, err := utils.FetchModelForUpdate[Receipt](tx, tenantId, id)
		if err != nil {
			return err
		}

		c := utils.NewFieldChecker()
		c.NonNegative("filled_weight", patch.FilledWeight)
		c.NonNegative("empty_weight", patch.EmptyWeight)
		c.NonNegative("net_weight", patch.NetWeight)
		c.NonNegative("quantity", patch.Quantity)
		if patch.VehicleNumber != nil {
			c.Required("vehicle_number", strings.TrimSpace(*patch.VehicleNumber) != "")
		}
		if patch.ReceiptDate != nil {
			c.Required("date", patch.ReceiptDate.IsSet())
		}

		updates := map[string]interface{}{}
		filled := utils.DereferencePtr(patch.FilledWeight, oldReceipt.FilledWeight)
		empty := utils.DereferencePtr(patch.EmptyWeight, oldReceipt.EmptyWeight)
		if patch.FilledWeight != nil {
			updates["filled_weight"] = filled
		}
		if patch.EmptyWeight != nil {
			updates["empty_weight"] = empty
		}
		if patch.FilledWeight != nil || patch.EmptyWeight != nil {
			net := NetWeight(filled, empty)
			if net.IsNegative() {
				c.Add("net_weight", "filled_weight - empty_weight must not be negative")
			}
			if patch.NetWeight == nil {
				updates["net_weight"] = net
			}
		}
		if patch.NetWeight != nil {
			updates["net_weight"] = *patch.NetWeight
		}
		if err := c.Err(); err != nil {
			return err
		}

		if patch.ReceiptDate != nil {
			updates["receipt_date"] = patch.ReceiptDate.Time
		}
		if patch.VehicleNumber != nil {
			updates["vehicle_number"] = strings.TrimSpace(*patch.VehicleNumber)
		}
		if patch.MaterialName != nil {
			updates["material_name"] = strings.TrimSpace(*patch.MaterialName)
		}
		if patch.Quantity != nil {
			updates["quantity"] = *patch.Quantity
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
		if patch.PurchaseId != nil {
			updates["purchase_id"] = *patch.PurchaseId
		}
		if patch.Site != nil || patch.SiteName != nil {
			updates["site_id"] = siteId
			updates["site_name"] = siteName
		}
		if patch.Remarks != nil {
			updates["remarks"] = *patch.Remarks
		}

		if len(updates) > 0 {
			updates["updated_at"] = time.Now().UTC()
			if err := tx.Model(&Receipt{}).Where("tenant_id = ? AND id = ?", tenantId, id).Updates(updates).Error; err != nil {
				return err
			}
		}
		result, err = utils.FetchModelTx[Receipt](tx, tenantId, id)
		if err != nil {
			return err
		}
		return createHistory(tx, HistoryActionUpdate, id, ReferenceTypeReceipt, oldReceipt, result, "Updated receipt for vehicle "+result.VehicleNumber)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteReceipt removes the receipt and cancels a push that has not been applied yet.
// A push already applied is not reversed.
func DeleteReceipt(ctx context.Context, id int) (*Receipt, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var result *Receipt
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, err = utils.FetchModelForUpdate[Receipt](tx, tenantId, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(result).Error; err != nil {
			return err
		}
		if err := cancelPendingPushes(tx, tenantId, id, "receipt deleted before its opening balance was applied"); err != nil {
			return err
		}
		return createHistory(tx, HistoryActionDelete, id, ReferenceTypeReceipt, result, nil, "Deleted receipt for vehicle "+result.VehicleNumber)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetReceipt(ctx context.Context, id int) (*Receipt, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return utils.FetchModel[Receipt](ctx, tenantId, id)
}

type ReceiptFilter struct {
	MaterialId *int
	SiteId     *int
	FromDate   *time.Time
	ToDate     *time.Time
}

type ReceiptList struct {
	Receipts   []*Receipt `json:"receipts"`
	Pagination Pagination `json:"pagination"`
}

func ListReceipts(ctx context.Context, filter ReceiptFilter, page int, pageSize int) (*ReceiptList, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	pagination := NewPagination(page, pageSize)

	db := config.GetDB()
	scoped := func() *gorm.DB {
		dbCtx := db.WithContext(ctx).Model(&Receipt{}).Where("tenant_id = ?", tenantId)
		if filter.MaterialId != nil {
			dbCtx = dbCtx.Where("material_id = ?", *filter.MaterialId)
		}
		if filter.SiteId != nil {
			dbCtx = dbCtx.Where("site_id = ?", *filter.SiteId)
		}
		if filter.FromDate != nil {
			dbCtx = dbCtx.Where("receipt_date >= ?", *filter.FromDate)
		}
		if filter.ToDate != nil {
			dbCtx = dbCtx.Where("receipt_date <= ?", *filter.ToDate)
		}
		return dbCtx
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, err
	}
	pagination.setTotal(total)

	var receipts []*Receipt
	if err := paginate(scoped(), pagination).Order("receipt_date DESC, id DESC").Find(&receipts).Error; err != nil {
		return nil, err
	}
	return &ReceiptList{Receipts: receipts, Pagination: pagination}, nil
}
