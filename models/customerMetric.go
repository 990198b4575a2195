package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerMetric is the per-customer lifetime aggregate. Customer ingestion
// seeds rows with platform-reported counters; each aggregation run fully
// replaces the computed fields from locally stored orders.
type CustomerMetric struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Gid        string `gorm:"size:128" json:"gid"`

	Email     string     `gorm:"size:255" json:"email"`
	FirstName string     `gorm:"size:255" json:"first_name"`
	LastName  string     `gorm:"size:255" json:"last_name"`
	Tags      StringList `gorm:"type:json" json:"tags"`

	OrdersCount        int             `gorm:"not null;default:0" json:"orders_count"`
	TotalSpent         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_spent"`
	AvgOrderValue      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_order_value"`
	LifetimeValue      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"lifetime_value"`
	IsRepeatCustomer   bool            `gorm:"not null;default:false" json:"is_repeat_customer"`
	RepeatPurchaseRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"repeat_purchase_rate"`

	FirstOrderDate     *time.Time `json:"first_order_date"`
	LastOrderDate      *time.Time `json:"last_order_date"`
	DaysSinceLastOrder *int       `json:"days_since_last_order"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
