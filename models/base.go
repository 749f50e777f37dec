package models

import (
	"context"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sitestock_backend/utils"
)

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
