package webhooks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

// Store is the persistence slice the event handlers need.
type Store interface {
	GetOrderByExternalId(ctx context.Context, externalId string) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	GetVariantByExternalId(ctx context.Context, externalId string) (*models.ProductVariant, error)
	GetVariantByInventoryItemId(ctx context.Context, inventoryItemId string) (*models.ProductVariant, error)
	SaveVariant(ctx context.Context, variant *models.ProductVariant) error
}

// Adapter translates pre-verified platform events into repository upserts,
// mirroring the entity shapes the sync produces. Handlers never trigger
// re-aggregation; metrics catch up on the next scheduled run.
type Adapter struct {
	store    Store
	logger   *logrus.Logger
	validate *validator.Validate
}

func NewAdapter(store Store, logger *logrus.Logger) *Adapter {
	return &Adapter{
		store:    store,
		logger:   logger,
		validate: validator.New(),
	}
}

// HandleOrderCreate inserts a new order from an orders/create event. An
// order already known by id is replaced, which makes redelivery harmless.
func (a *Adapter) HandleOrderCreate(ctx context.Context, body []byte) error {
	var payload OrderCreatePayload
	if err := parsePayload(body, a.validate, &payload); err != nil {
		return err
	}

	externalId := strconv.FormatInt(payload.Id, 10)
	order, err := a.store.GetOrderByExternalId(ctx, externalId)
	if err != nil {
		return err
	}
	if order == nil {
		order = &models.Order{ExternalId: externalId}
	}

	order.Gid = fmt.Sprintf("gid://shopify/Order/%d", payload.Id)
	order.OrderNumber = orderNumber(payload.Name, payload.OrderNumber)
	order.Email = payload.Email
	if payload.Customer != nil && payload.Customer.Id != 0 {
		order.CustomerId = strconv.FormatInt(payload.Customer.Id, 10)
	}
	applyOrderMutableFields(order, payload.FinancialStatus, payload.FulfillmentStatus,
		payload.SubtotalPrice, payload.TotalTax, payload.TotalDiscounts, payload.TotalPrice,
		payload.ProcessedAt, payload.CancelledAt)
	order.OrderCreatedAt = utils.ParseTimeOrZero(payload.CreatedAt)

	lineItems := make(models.OrderLineItems, 0, len(payload.LineItems))
	for _, li := range payload.LineItems {
		item := models.OrderLineItem{
			Title:         li.Title,
			Sku:           li.Sku,
			Quantity:      li.Quantity,
			UnitPrice:     utils.ParseDecimal(li.Price),
			TotalDiscount: utils.ParseDecimal(li.TotalDiscount),
		}
		if li.VariantId != 0 {
			item.VariantId = strconv.FormatInt(li.VariantId, 10)
			item.VariantGid = fmt.Sprintf("gid://shopify/ProductVariant/%d", li.VariantId)
		}
		if li.ProductId != 0 {
			item.ProductId = strconv.FormatInt(li.ProductId, 10)
		}
		lineItems = append(lineItems, item)
	}
	order.LineItems = lineItems

	if err := a.store.SaveOrder(ctx, order); err != nil {
		return err
	}
	a.logger.WithContext(ctx).WithField("orderId", externalId).Info("order created from event")
	return nil
}

// HandleOrderUpdate upserts the mutable order fields from an orders/updated
// event. Line items and refunds stay as stored.
func (a *Adapter) HandleOrderUpdate(ctx context.Context, body []byte) error {
	var payload OrderUpdatePayload
	if err := parsePayload(body, a.validate, &payload); err != nil {
		return err
	}

	externalId := strconv.FormatInt(payload.Id, 10)
	order, err := a.store.GetOrderByExternalId(ctx, externalId)
	if err != nil {
		return err
	}
	if order == nil {
		order = &models.Order{
			ExternalId: externalId,
			Gid:        fmt.Sprintf("gid://shopify/Order/%d", payload.Id),
		}
	}

	applyOrderMutableFields(order, payload.FinancialStatus, payload.FulfillmentStatus,
		payload.SubtotalPrice, payload.TotalTax, payload.TotalDiscounts, payload.TotalPrice,
		payload.ProcessedAt, payload.CancelledAt)

	if err := a.store.SaveOrder(ctx, order); err != nil {
		return err
	}
	a.logger.WithContext(ctx).WithField("orderId", externalId).Info("order updated from event")
	return nil
}

// HandleProductUpdate upserts the structural fields of every variant in a
// products/update event. CurrentPrice is reset to the payload price only
// when the list price actually changed; an unchanged list price leaves an
// engine-applied price alone.
func (a *Adapter) HandleProductUpdate(ctx context.Context, body []byte) error {
	var payload ProductUpdatePayload
	if err := parsePayload(body, a.validate, &payload); err != nil {
		return err
	}

	productId := strconv.FormatInt(payload.Id, 10)
	for _, vp := range payload.Variants {
		externalId := strconv.FormatInt(vp.Id, 10)
		variant, err := a.store.GetVariantByExternalId(ctx, externalId)
		if err != nil {
			return err
		}

		price := utils.ParseDecimal(vp.Price)
		if variant == nil {
			variant = &models.ProductVariant{
				ExternalId:   externalId,
				CurrentPrice: price,
			}
		} else if !variant.Price.Equal(price) {
			variant.CurrentPrice = price
		}

		variant.Gid = fmt.Sprintf("gid://shopify/ProductVariant/%d", vp.Id)
		variant.ProductId = productId
		variant.ProductGid = fmt.Sprintf("gid://shopify/Product/%d", payload.Id)
		variant.Title = fmt.Sprintf("%s - %s", payload.Title, vp.Title)
		variant.Sku = vp.Sku
		variant.Price = price
		if vp.CompareAtPrice != nil && *vp.CompareAtPrice != "" {
			compareAt := utils.ParseDecimal(*vp.CompareAtPrice)
			variant.CompareAtPrice = &compareAt
		} else {
			variant.CompareAtPrice = nil
		}
		variant.InventoryQuantity = vp.InventoryQuantity
		variant.InventoryItemId = strconv.FormatInt(vp.InventoryItemId, 10)
		variant.Vendor = payload.Vendor
		variant.ProductType = payload.ProductType
		variant.Tags = splitTags(payload.Tags)

		if err := a.store.SaveVariant(ctx, variant); err != nil {
			return err
		}
	}

	a.logger.WithContext(ctx).WithFields(logrus.Fields{
		"productId":    productId,
		"variantCount": len(payload.Variants),
	}).Info("product variants updated from event")
	return nil
}

// HandleInventoryUpdate sets a variant's inventory from an
// inventory_levels/update event. An unknown inventory item is logged and
// dropped; the next catalog sync will pick the variant up.
func (a *Adapter) HandleInventoryUpdate(ctx context.Context, body []byte) error {
	var payload InventoryUpdatePayload
	if err := parsePayload(body, a.validate, &payload); err != nil {
		return err
	}

	inventoryItemId := strconv.FormatInt(payload.InventoryItemId, 10)
	variant, err := a.store.GetVariantByInventoryItemId(ctx, inventoryItemId)
	if err != nil {
		return err
	}
	if variant == nil {
		a.logger.WithContext(ctx).WithField("inventoryItemId", inventoryItemId).Warn("inventory event for unknown variant")
		return nil
	}

	variant.InventoryQuantity = payload.Available
	if err := a.store.SaveVariant(ctx, variant); err != nil {
		return err
	}
	a.logger.WithContext(ctx).WithFields(logrus.Fields{
		"inventoryItemId": inventoryItemId,
		"available":       payload.Available,
	}).Info("inventory updated from event")
	return nil
}

// HandleRefundCreate appends one refund to the referenced order. Refunds
// are canonical by refund id, so a redelivered or already-synced refund is
// dropped.
func (a *Adapter) HandleRefundCreate(ctx context.Context, body []byte) error {
	var payload RefundCreatePayload
	if err := parsePayload(body, a.validate, &payload); err != nil {
		return err
	}

	orderId := strconv.FormatInt(payload.OrderId, 10)
	refundId := strconv.FormatInt(payload.Id, 10)

	order, err := a.store.GetOrderByExternalId(ctx, orderId)
	if err != nil {
		return err
	}
	if order == nil {
		a.logger.WithContext(ctx).WithField("orderId", orderId).Warn("refund event for unknown order")
		return nil
	}
	if order.Refunds.Contains(refundId) {
		a.logger.WithContext(ctx).WithFields(logrus.Fields{
			"orderId":  orderId,
			"refundId": refundId,
		}).Info("refund already recorded")
		return nil
	}

	order.Refunds = append(order.Refunds, models.Refund{
		RefundId:  refundId,
		Amount:    utils.ParseDecimal(payload.TotalRefunded),
		CreatedAt: utils.ParseTimeOrZero(payload.CreatedAt),
	})
	if err := a.store.SaveOrder(ctx, order); err != nil {
		return err
	}
	a.logger.WithContext(ctx).WithFields(logrus.Fields{
		"orderId":  orderId,
		"refundId": refundId,
	}).Info("refund added to order")
	return nil
}

func applyOrderMutableFields(order *models.Order, financialStatus, fulfillmentStatus, subtotal, tax, discounts, total string, processedAt, cancelledAt *string) {
	order.FinancialStatus = financialStatus
	order.FulfillmentStatus = fulfillmentStatus
	order.SubtotalPrice = utils.ParseDecimal(subtotal)
	order.TotalTax = utils.ParseDecimal(tax)
	order.TotalDiscount = utils.ParseDecimal(discounts)
	order.TotalPrice = utils.ParseDecimal(total)
	order.ProcessedAt = parseTimePtr(processedAt)
	order.CancelledAt = parseTimePtr(cancelledAt)
}

func orderNumber(name string, number int64) string {
	if name != "" {
		return name
	}
	if number != 0 {
		return strconv.FormatInt(number, 10)
	}
	return ""
}

func splitTags(raw string) models.StringList {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make(models.StringList, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func parseTimePtr(value *string) *time.Time {
	if value == nil || *value == "" {
		return nil
	}
	t := utils.ParseTimeOrZero(*value)
	if t.IsZero() {
		return nil
	}
	return &t
}
