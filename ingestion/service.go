package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/shopify"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

// Store is the persistence slice the sync routines need.
type Store interface {
	GetVariantByExternalId(ctx context.Context, externalId string) (*models.ProductVariant, error)
	SaveVariant(ctx context.Context, variant *models.ProductVariant) error
	GetOrderByExternalId(ctx context.Context, externalId string) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	GetCustomerMetricByExternalId(ctx context.Context, externalId string) (*models.CustomerMetric, error)
	SaveCustomerMetric(ctx context.Context, metric *models.CustomerMetric) error
}

// Aggregator rebuilds the derived metric collections after a sync.
type Aggregator interface {
	AggregateDailyVariantMetrics(ctx context.Context, day time.Time) error
	AggregateCustomerMetrics(ctx context.Context) error
}

// PageSource yields successive pages of raw GraphQL nodes.
type PageSource interface {
	Next(ctx context.Context) ([]json.RawMessage, bool)
}

// Service pulls catalog, order and customer data from the commerce API
// and upserts it into local collections.
type Service struct {
	store      Store
	aggregator Aggregator
	cfg        config.Config
	logger     *logrus.Logger

	paginate func(query string, variables map[string]interface{}, pageSize int, dataPath ...string) PageSource
}

func NewService(client *shopify.Client, store Store, aggregator Aggregator, cfg config.Config, logger *logrus.Logger) *Service {
	return &Service{
		store:      store,
		aggregator: aggregator,
		cfg:        cfg,
		logger:     logger,
		paginate: func(query string, variables map[string]interface{}, pageSize int, dataPath ...string) PageSource {
			return client.Paginate(query, variables, pageSize, dataPath...)
		},
	}
}

// IngestVariants walks the product catalog and upserts every variant.
// Structural fields are replaced from the payload; currentPrice and
// priceHistory stay untouched on existing rows since the pricing engine
// owns them.
func (s *Service) IngestVariants(ctx context.Context) error {
	pages := s.paginate(shopify.QueryProducts, nil, 50, "products")

	var synced, failed int
	for {
		nodes, ok := pages.Next(ctx)
		if !ok {
			break
		}
		for _, raw := range nodes {
			var product productNode
			if err := json.Unmarshal(raw, &product); err != nil {
				config.LogError(s.logger, "ingestion", "IngestVariants", "decode product node", string(raw), err)
				failed++
				continue
			}
			for _, edge := range product.Variants.Edges {
				if err := s.upsertVariant(ctx, product, edge.Node); err != nil {
					config.LogError(s.logger, "ingestion", "IngestVariants", "upsert variant", edge.Node.Id, err)
					failed++
					continue
				}
				synced++
			}
		}
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"synced": synced,
		"failed": failed,
	}).Info("variant sync finished")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *Service) upsertVariant(ctx context.Context, product productNode, node variantNode) error {
	externalId := utils.NormalizeExternalId(node.Id)
	variant, err := s.store.GetVariantByExternalId(ctx, externalId)
	if err != nil {
		return err
	}

	price := utils.ParseDecimal(node.Price)
	created := variant == nil
	if created {
		variant = &models.ProductVariant{
			ExternalId:   externalId,
			CurrentPrice: price,
		}
	}
	variant.Gid = node.Id
	variant.ProductId = utils.NormalizeExternalId(product.Id)
	variant.ProductGid = product.Id
	variant.Title = fmt.Sprintf("%s - %s", product.Title, node.Title)
	variant.Sku = node.Sku
	variant.Price = price
	if node.CompareAtPrice != nil && *node.CompareAtPrice != "" {
		compareAt := utils.ParseDecimal(*node.CompareAtPrice)
		variant.CompareAtPrice = &compareAt
	} else {
		variant.CompareAtPrice = nil
	}
	variant.InventoryQuantity = node.InventoryQuantity
	variant.InventoryItemId = utils.NormalizeExternalId(node.InventoryItem.Id)
	variant.Vendor = product.Vendor
	variant.ProductType = product.ProductType
	variant.Tags = models.StringList(product.Tags)

	return s.store.SaveVariant(ctx, variant)
}

// IngestOrders upserts every non-archived order created within the last
// windowDays days. Line items and refunds are replaced wholesale from the
// payload; refunds are de-duplicated by refund id within it.
func (s *Service) IngestOrders(ctx context.Context, windowDays int) error {
	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	variables := map[string]interface{}{
		"query": fmt.Sprintf("created_at:>=%s", since.Format(time.RFC3339)),
	}
	pages := s.paginate(shopify.QueryOrders, variables, 100, "orders")

	var synced, failed int
	for {
		nodes, ok := pages.Next(ctx)
		if !ok {
			break
		}
		for _, raw := range nodes {
			var node orderNode
			if err := json.Unmarshal(raw, &node); err != nil {
				config.LogError(s.logger, "ingestion", "IngestOrders", "decode order node", string(raw), err)
				failed++
				continue
			}
			if err := s.upsertOrder(ctx, node); err != nil {
				config.LogError(s.logger, "ingestion", "IngestOrders", "upsert order", node.Id, err)
				failed++
				continue
			}
			synced++
		}
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"synced":     synced,
		"failed":     failed,
		"windowDays": windowDays,
	}).Info("order sync finished")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *Service) upsertOrder(ctx context.Context, node orderNode) error {
	externalId := utils.NormalizeExternalId(node.Id)
	order, err := s.store.GetOrderByExternalId(ctx, externalId)
	if err != nil {
		return err
	}
	if order == nil {
		order = &models.Order{ExternalId: externalId}
	}

	order.Gid = node.Id
	order.OrderNumber = node.Name
	order.Email = node.Email
	if node.Customer != nil {
		order.CustomerId = utils.NormalizeExternalId(node.Customer.Id)
	} else {
		order.CustomerId = ""
	}
	order.FinancialStatus = node.DisplayFinancialStatus
	order.FulfillmentStatus = node.DisplayFulfillmentStatus
	order.SubtotalPrice = utils.ParseDecimal(node.SubtotalPriceSet.ShopMoney.Amount)
	order.TotalTax = utils.ParseDecimal(node.TotalTaxSet.ShopMoney.Amount)
	order.TotalDiscount = utils.ParseDecimal(node.TotalDiscountsSet.ShopMoney.Amount)
	order.TotalPrice = utils.ParseDecimal(node.TotalPriceSet.ShopMoney.Amount)
	order.OrderCreatedAt = utils.ParseTimeOrZero(node.CreatedAt)
	order.ProcessedAt = parseTimePtr(node.ProcessedAt)
	order.CancelledAt = parseTimePtr(node.CancelledAt)

	lineItems := make(models.OrderLineItems, 0, len(node.LineItems.Edges))
	for _, edge := range node.LineItems.Edges {
		li := edge.Node
		item := models.OrderLineItem{
			Title:         li.Title,
			Quantity:      li.Quantity,
			UnitPrice:     utils.ParseDecimal(li.OriginalUnitPriceSet.ShopMoney.Amount),
			TotalDiscount: utils.ParseDecimal(li.TotalDiscountSet.ShopMoney.Amount),
		}
		if li.Variant != nil {
			item.VariantId = utils.NormalizeExternalId(li.Variant.Id)
			item.VariantGid = li.Variant.Id
			item.Sku = li.Variant.Sku
		}
		if li.Product != nil {
			item.ProductId = utils.NormalizeExternalId(li.Product.Id)
		}
		lineItems = append(lineItems, item)
	}
	order.LineItems = lineItems

	refunds := make(models.Refunds, 0, len(node.Refunds))
	for _, rn := range node.Refunds {
		refundId := utils.NormalizeExternalId(rn.Id)
		if refunds.Contains(refundId) {
			continue
		}
		refunds = append(refunds, models.Refund{
			RefundId:  refundId,
			Amount:    utils.ParseDecimal(rn.TotalRefundedSet.ShopMoney.Amount),
			CreatedAt: utils.ParseTimeOrZero(rn.CreatedAt),
		})
	}
	order.Refunds = refunds

	return s.store.SaveOrder(ctx, order)
}

// IngestCustomers upserts the platform-reported customer counters. The
// derived lifetime fields are overwritten later by the aggregation pass.
func (s *Service) IngestCustomers(ctx context.Context) error {
	pages := s.paginate(shopify.QueryCustomers, nil, 100, "customers")

	var synced, failed int
	for {
		nodes, ok := pages.Next(ctx)
		if !ok {
			break
		}
		for _, raw := range nodes {
			var node customerNode
			if err := json.Unmarshal(raw, &node); err != nil {
				config.LogError(s.logger, "ingestion", "IngestCustomers", "decode customer node", string(raw), err)
				failed++
				continue
			}
			if err := s.upsertCustomer(ctx, node); err != nil {
				config.LogError(s.logger, "ingestion", "IngestCustomers", "upsert customer", node.Id, err)
				failed++
				continue
			}
			synced++
		}
	}

	s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"synced": synced,
		"failed": failed,
	}).Info("customer sync finished")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (s *Service) upsertCustomer(ctx context.Context, node customerNode) error {
	externalId := utils.NormalizeExternalId(node.Id)
	metric, err := s.store.GetCustomerMetricByExternalId(ctx, externalId)
	if err != nil {
		return err
	}
	if metric == nil {
		metric = &models.CustomerMetric{ExternalId: externalId}
	}

	ordersCount, _ := node.NumberOfOrders.Int64()
	totalSpent := utils.ParseDecimal(node.AmountSpent.Amount)

	metric.Gid = node.Id
	metric.Email = node.Email
	metric.FirstName = node.FirstName
	metric.LastName = node.LastName
	metric.Tags = models.StringList(node.Tags)
	metric.OrdersCount = int(ordersCount)
	metric.TotalSpent = totalSpent
	metric.LifetimeValue = totalSpent
	metric.IsRepeatCustomer = ordersCount > 1
	if ordersCount > 0 {
		metric.AvgOrderValue = totalSpent.Div(decimal.NewFromInt(ordersCount))
	} else {
		metric.AvgOrderValue = decimal.Zero
	}

	return s.store.SaveCustomerMetric(ctx, metric)
}

// RunReconciliation re-syncs the recent order window and rebuilds both
// derived metric collections for today.
func (s *Service) RunReconciliation(ctx context.Context) error {
	s.logger.WithContext(ctx).Info("reconciliation started")

	if err := s.IngestOrders(ctx, s.cfg.Windows.ReconciliationDays); err != nil {
		return fmt.Errorf("reconciliation order sync: %w", err)
	}
	today := utils.TruncateToDay(time.Now().UTC())
	if err := s.aggregator.AggregateDailyVariantMetrics(ctx, today); err != nil {
		return fmt.Errorf("reconciliation variant metrics: %w", err)
	}
	if err := s.aggregator.AggregateCustomerMetrics(ctx); err != nil {
		return fmt.Errorf("reconciliation customer metrics: %w", err)
	}

	s.logger.WithContext(ctx).Info("reconciliation finished")
	return nil
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
