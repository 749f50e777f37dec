package utils

import (
	"context"
	"errors"

	"github.com/mmdatafocus/sitestock_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// fetch model from db
// (tenant_id is used in query's WHERE, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, tenantId string, id int, associations ...string) (*T, error) {
	return FetchModelTx[T](config.GetDB().WithContext(ctx), tenantId, id, associations...)
}

// same as FetchModel, inside the caller's transaction
func FetchModelTx[T any](tx *gorm.DB, tenantId string, id int, associations ...string) (*T, error) {
	dbCtx := tx.Where("tenant_id = ?", tenantId)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// fetch model with a row lock held until tx ends
func FetchModelForUpdate[T any](tx *gorm.DB, tenantId string, id int) (*T, error) {
	return FetchModelTx[T](tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantId, id)
}

// fetch all models of the tenant
func FetchAllModels[T any](ctx context.Context, tenantId string, orders ...string) ([]*T, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("tenant_id = ?", tenantId)
	for _, order := range orders {
		dbCtx = dbCtx.Order(order)
	}
	var results []*T
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
