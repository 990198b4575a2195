package webhooks

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// REST webhook payload shapes: snake_case fields, numeric ids, money as
// decimal strings. Parsing is fail-closed; a payload missing a required
// field is rejected instead of producing zero values downstream.

type OrderCreatePayload struct {
	Id                int64  `json:"id" validate:"required"`
	OrderNumber       int64  `json:"order_number"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	Customer          *struct {
		Id int64 `json:"id"`
	} `json:"customer"`
	TotalPrice     string            `json:"total_price" validate:"required"`
	SubtotalPrice  string            `json:"subtotal_price"`
	TotalTax       string            `json:"total_tax"`
	TotalDiscounts string            `json:"total_discounts"`
	LineItems      []LineItemPayload `json:"line_items" validate:"dive"`
	CreatedAt      string            `json:"created_at" validate:"required"`
	ProcessedAt    *string           `json:"processed_at"`
	CancelledAt    *string           `json:"cancelled_at"`
}

type LineItemPayload struct {
	VariantId     int64  `json:"variant_id"`
	ProductId     int64  `json:"product_id"`
	Title         string `json:"title"`
	Sku           string `json:"sku"`
	Quantity      int    `json:"quantity" validate:"min=0"`
	Price         string `json:"price" validate:"required"`
	TotalDiscount string `json:"total_discount"`
}

// OrderUpdatePayload carries only the mutable order fields; line items in
// an update event are ignored.
type OrderUpdatePayload struct {
	Id                int64   `json:"id" validate:"required"`
	FinancialStatus   string  `json:"financial_status"`
	FulfillmentStatus string  `json:"fulfillment_status"`
	TotalPrice        string  `json:"total_price" validate:"required"`
	SubtotalPrice     string  `json:"subtotal_price"`
	TotalTax          string  `json:"total_tax"`
	TotalDiscounts    string  `json:"total_discounts"`
	ProcessedAt       *string `json:"processed_at"`
	CancelledAt       *string `json:"cancelled_at"`
}

type ProductUpdatePayload struct {
	Id          int64            `json:"id" validate:"required"`
	Title       string           `json:"title"`
	Vendor      string           `json:"vendor"`
	ProductType string           `json:"product_type"`
	Tags        string           `json:"tags"`
	Variants    []VariantPayload `json:"variants" validate:"required,min=1,dive"`
}

type VariantPayload struct {
	Id                int64   `json:"id" validate:"required"`
	Title             string  `json:"title"`
	Sku               string  `json:"sku"`
	Price             string  `json:"price" validate:"required"`
	CompareAtPrice    *string `json:"compare_at_price"`
	InventoryQuantity int     `json:"inventory_quantity"`
	InventoryItemId   int64   `json:"inventory_item_id" validate:"required"`
}

type InventoryUpdatePayload struct {
	InventoryItemId int64 `json:"inventory_item_id" validate:"required"`
	Available       int   `json:"available"`
}

type RefundCreatePayload struct {
	Id            int64  `json:"id" validate:"required"`
	OrderId       int64  `json:"order_id" validate:"required"`
	TotalRefunded string `json:"total_refunded"`
	CreatedAt     string `json:"created_at" validate:"required"`
}

// parsePayload decodes and validates one event body.
func parsePayload(body []byte, validate *validator.Validate, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid event payload: %w", err)
	}
	return nil
}
