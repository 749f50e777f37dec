package utils

import (
	"context"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/shopspring/decimal"
)

// check if id exists for the tenant, return RecordNotFound Error
func ValidateResourceId[T any](ctx context.Context, tenantId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, tenantId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// count records, using WHERE tenant_id = ? AND $condition
func ResourceCountWhere[T any](ctx context.Context, tenantId string, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	if tenantId != "" {
		dbCtx = dbCtx.Where("tenant_id = ?", tenantId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// collects per-field problems so a whole payload can be rejected at once
type FieldChecker struct {
	fields map[string]string
}

func NewFieldChecker() *FieldChecker {
	return &FieldChecker{fields: map[string]string{}}
}

func (c *FieldChecker) Add(field string, reason string) {
	if _, exists := c.fields[field]; !exists {
		c.fields[field] = reason
	}
}

func (c *FieldChecker) Required(field string, present bool) {
	if !present {
		c.Add(field, "required")
	}
}

func (c *FieldChecker) RequiredDecimal(field string, v *decimal.Decimal) {
	c.Required(field, v != nil)
}

func (c *FieldChecker) Positive(field string, v *decimal.Decimal) {
	if v != nil && !v.IsPositive() {
		c.Add(field, "must be greater than zero")
	}
}

func (c *FieldChecker) NonNegative(field string, v *decimal.Decimal) {
	if v != nil && v.IsNegative() {
		c.Add(field, "must not be negative")
	}
}

// Err returns nil when nothing was recorded.
func (c *FieldChecker) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Message: "invalid input", Fields: c.fields}
}
