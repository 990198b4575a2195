package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// JSON-column value types. MySQL json columns scan as []byte; an empty
// column round-trips as an empty slice, never nil, so aggregation loops
// don't need nil checks.

type PriceHistoryEntry struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

type PriceHistory []PriceHistoryEntry

func (h PriceHistory) Value() (driver.Value, error) {
	if h == nil {
		h = PriceHistory{}
	}
	return json.Marshal(h)
}

func (h *PriceHistory) Scan(value interface{}) error {
	return scanJSON(value, h)
}

type OrderLineItem struct {
	VariantId     string          `json:"variant_id"`
	VariantGid    string          `json:"variant_gid"`
	ProductId     string          `json:"product_id"`
	Title         string          `json:"title"`
	Sku           string          `json:"sku"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
}

type OrderLineItems []OrderLineItem

func (l OrderLineItems) Value() (driver.Value, error) {
	if l == nil {
		l = OrderLineItems{}
	}
	return json.Marshal(l)
}

func (l *OrderLineItems) Scan(value interface{}) error {
	return scanJSON(value, l)
}

type Refund struct {
	RefundId  string          `json:"refund_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type Refunds []Refund

func (r Refunds) Value() (driver.Value, error) {
	if r == nil {
		r = Refunds{}
	}
	return json.Marshal(r)
}

func (r *Refunds) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// Contains reports whether a refund with the given external id is already
// recorded. Refund lists are canonicalized by refund id (full sync replaces,
// the refund webhook appends only unseen ids).
func (r Refunds) Contains(refundId string) bool {
	for _, refund := range r {
		if refund.RefundId == refundId {
			return true
		}
	}
	return false
}

type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		s = StringList{}
	}
	return json.Marshal(s)
}

func (s *StringList) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}
