package models

import (
	"github.com/mmdatafocus/sitestock_backend/config"
)

func MigrateTable() error {
	db := config.GetDB()

	return db.AutoMigrate(
		&MaterialCatalogEntry{},
		&Purchase{},
		&Receipt{},
		&SiteAllocation{},
		&ConsumptionRecord{},
		&Site{},
		&OpeningBalancePush{},
		&History{},
	)
}
