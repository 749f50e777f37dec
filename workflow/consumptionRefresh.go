package workflow

import (
	"context"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RefreshConsumption writes live consumption into the stored purchase and catalog counters
// of tenantId, or of every tenant with purchases when tenantId is empty. It returns the
// number of changed purchases per tenant.
func RefreshConsumption(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, dryRun bool) (map[string]int, error) {
	tenants := []string{tenantId}
	if tenantId == "" {
		tenants = nil
		if err := db.WithContext(ctx).Model(&models.Purchase{}).Distinct("tenant_id").Order("tenant_id").Pluck("tenant_id", &tenants).Error; err != nil {
			config.LogError(logger, "consumptionRefresh.go", "RefreshConsumption", "listing tenants", nil, err)
			return nil, err
		}
	}

	strategy := models.StrategyFromConfig()
	changed := make(map[string]int, len(tenants))
	for _, t := range tenants {
		n, err := models.RefreshPurchaseConsumption(ctx, db, t, strategy, dryRun)
		if err != nil {
			config.LogError(logger, "consumptionRefresh.go", "RefreshConsumption", "refreshing tenant", t, err)
			return changed, err
		}
		changed[t] = n
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":     "RefreshConsumption",
				"tenant_id": t,
				"strategy":  strategy.Name(),
				"changed":   n,
				"dry_run":   dryRun,
			}).Info("consumption counters refreshed")
		}
	}
	return changed, nil
}
