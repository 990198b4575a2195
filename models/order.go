package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order mirrors a platform order. OrderCreatedAt is the platform's creation
// timestamp (aggregation keys on it), distinct from the row's CreatedAt.
// Cancelled orders stay in the table but are excluded from all aggregation.
type Order struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ExternalId  string `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Gid         string `gorm:"size:128" json:"gid"`
	OrderNumber string `gorm:"index;size:32" json:"order_number"`
	Email       string `gorm:"size:255" json:"email"`
	CustomerId  string `gorm:"index;size:64" json:"customer_id"`

	FinancialStatus   string `gorm:"size:64" json:"financial_status"`
	FulfillmentStatus string `gorm:"size:64" json:"fulfillment_status"`

	SubtotalPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal_price"`
	TotalTax      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_tax"`
	TotalDiscount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_discount"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`

	LineItems OrderLineItems `gorm:"type:json" json:"line_items"`
	Refunds   Refunds        `gorm:"type:json" json:"refunds"`

	OrderCreatedAt time.Time  `gorm:"index;not null" json:"order_created_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) IsCancelled() bool {
	return o.CancelledAt != nil
}
