package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyVariantMetric is the per-(variant, day) sales aggregate.
//
// Grain: (variant_id, date) with date truncated to UTC midnight.
// Derived data: every row is fully recomputed and overwritten by each
// aggregation run, so the table can always be rebuilt from orders.
type DailyVariantMetric struct {
	VariantId string    `gorm:"primaryKey;size:64" json:"variant_id"`
	Date      time.Time `gorm:"primaryKey" json:"date"`

	UnitsSold       int             `gorm:"not null;default:0" json:"units_sold"`
	OrderCount      int             `gorm:"not null;default:0" json:"order_count"`
	UniqueCustomers int             `gorm:"not null;default:0" json:"unique_customers"`
	GrossRevenue    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gross_revenue"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	RefundAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"refund_amount"`
	RefundCount     int             `gorm:"not null;default:0" json:"refund_count"`

	Revenue       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"revenue"`
	DiscountRate  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_rate"`
	RefundRate    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"refund_rate"`
	AvgOrderValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"avg_order_value"`

	InventoryStart  int             `gorm:"not null;default:0" json:"inventory_start"`
	InventoryEnd    int             `gorm:"not null;default:0" json:"inventory_end"`
	SellThroughRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sell_through_rate"`

	PriceAtTime          decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"price_at_time"`
	CompareAtPriceAtTime *decimal.Decimal `gorm:"type:decimal(20,4)" json:"compare_at_price_at_time"`
	AggregatedAt         time.Time        `json:"aggregated_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
