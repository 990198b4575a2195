package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductVariant is the purchasable SKU-level unit synced from the platform.
//
// Structural fields (title, sku, price, inventory, metadata) are replaced
// wholesale by each sync. CurrentPrice and PriceHistory are engine-owned:
// only the pricing engine and product-update events touch them.
type ProductVariant struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ExternalId string `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Gid        string `gorm:"size:128" json:"gid"`
	ProductId  string `gorm:"index;size:64;not null" json:"product_id"`
	ProductGid string `gorm:"size:128" json:"product_gid"`

	Title string `gorm:"size:255" json:"title"`
	Sku   string `gorm:"index;size:128" json:"sku"`

	Price             decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"price"`
	CompareAtPrice    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"compare_at_price"`
	InventoryQuantity int              `gorm:"not null;default:0" json:"inventory_quantity"`
	InventoryItemId   string           `gorm:"index;size:64" json:"inventory_item_id"`

	CurrentPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_price"`
	LastPriceUpdate *time.Time      `json:"last_price_update"`
	PriceHistory    PriceHistory    `gorm:"type:json" json:"price_history"`

	Vendor      string     `gorm:"size:255" json:"vendor"`
	ProductType string     `gorm:"size:255" json:"product_type"`
	Tags        StringList `gorm:"type:json" json:"tags"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppendPriceEntry records an applied price with its reason. The history is
// append-only.
func (v *ProductVariant) AppendPriceEntry(price decimal.Decimal, at time.Time, reason string) {
	v.PriceHistory = append(v.PriceHistory, PriceHistoryEntry{
		Price:     price,
		Timestamp: at,
		Reason:    reason,
	})
}
