package models

import (
	"log"

	"bitbucket.org/metrifyhq/metrify_backend/config"
)

// MigrateTable automigrates the synced collections. Derived tables
// (DailyVariantMetric, CustomerMetric) can always be rebuilt from orders.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&ProductVariant{},
		&Order{},
		&DailyVariantMetric{},
		&CustomerMetric{},
	)
	if err != nil {
		log.Printf("auto migration failed: %v", err)
	}
}
