package aggregation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

var hundred = decimal.NewFromInt(100)

// Store is the persistence slice the aggregation passes need.
type Store interface {
	OrdersCreatedBetween(ctx context.Context, from, to time.Time) ([]models.Order, error)
	GetVariantByExternalId(ctx context.Context, externalId string) (*models.ProductVariant, error)
	UpsertDailyVariantMetric(ctx context.Context, metric *models.DailyVariantMetric) error
	NonCancelledCustomerOrders(ctx context.Context) ([]models.Order, error)
	GetCustomerMetricByExternalId(ctx context.Context, externalId string) (*models.CustomerMetric, error)
	SaveCustomerMetric(ctx context.Context, metric *models.CustomerMetric) error
}

// Engine recomputes the derived metric collections from locally stored
// orders. Every run fully replaces the rows it touches, so re-running a day
// converges to the same values.
type Engine struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
}

func NewEngine(store Store, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// variantBucket accumulates one variant's activity for a single day.
// orderCount counts contributing line items, not distinct orders.
type variantBucket struct {
	unitsSold      int
	orderCount     int
	customerIds    map[string]struct{}
	grossRevenue   decimal.Decimal
	discountAmount decimal.Decimal
	refundAmount   decimal.Decimal
	refundCount    int
}

func newVariantBucket() *variantBucket {
	return &variantBucket{
		customerIds:    make(map[string]struct{}),
		grossRevenue:   decimal.Zero,
		discountAmount: decimal.Zero,
		refundAmount:   decimal.Zero,
	}
}

// AggregateDailyVariantMetrics rebuilds the per-variant rows for the UTC day
// containing the given time. Orders are keyed on their platform creation
// timestamp; cancelled orders never contribute. Line items without a variant
// reference are skipped. Refunds are spread across an order's lines in
// proportion to each line's share of the order's line revenue.
func (e *Engine) AggregateDailyVariantMetrics(ctx context.Context, day time.Time) error {
	from := utils.TruncateToDay(day)
	to := from.Add(24 * time.Hour)

	orders, err := e.store.OrdersCreatedBetween(ctx, from, to)
	if err != nil {
		return err
	}

	buckets := make(map[string]*variantBucket)
	for i := range orders {
		e.accumulateOrder(buckets, &orders[i])
	}

	var written, skipped int
	for variantId, bucket := range buckets {
		variant, err := e.store.GetVariantByExternalId(ctx, variantId)
		if err != nil {
			return err
		}
		if variant == nil {
			e.logger.WithContext(ctx).WithFields(logrus.Fields{
				"variantId": variantId,
				"date":      from.Format("2006-01-02"),
			}).Warn("skipping metrics for unknown variant")
			skipped++
			continue
		}

		metric := e.buildMetric(variant, from, bucket)
		if err := e.store.UpsertDailyVariantMetric(ctx, metric); err != nil {
			return err
		}
		written++
	}

	e.logger.WithContext(ctx).WithFields(logrus.Fields{
		"date":    from.Format("2006-01-02"),
		"orders":  len(orders),
		"written": written,
		"skipped": skipped,
	}).Info("daily variant metrics aggregated")
	return nil
}

func (e *Engine) accumulateOrder(buckets map[string]*variantBucket, order *models.Order) {
	for _, item := range order.LineItems {
		if item.VariantId == "" {
			continue
		}
		bucket, ok := buckets[item.VariantId]
		if !ok {
			bucket = newVariantBucket()
			buckets[item.VariantId] = bucket
		}

		bucket.unitsSold += item.Quantity
		bucket.orderCount++
		if order.CustomerId != "" {
			bucket.customerIds[order.CustomerId] = struct{}{}
		}
		bucket.grossRevenue = bucket.grossRevenue.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		bucket.discountAmount = bucket.discountAmount.Add(item.TotalDiscount)
	}

	// Each refund is spread across the order's lines by the line's share of
	// the order total. refundCount moves once per touched line, not once per
	// refund.
	if len(order.Refunds) == 0 || !order.TotalPrice.IsPositive() {
		return
	}
	for _, refund := range order.Refunds {
		for _, item := range order.LineItems {
			if item.VariantId == "" {
				continue
			}
			bucket, ok := buckets[item.VariantId]
			if !ok {
				continue
			}
			lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			portion := lineTotal.Div(order.TotalPrice).Mul(refund.Amount)
			bucket.refundAmount = bucket.refundAmount.Add(portion)
			bucket.refundCount++
		}
	}
}

func (e *Engine) buildMetric(variant *models.ProductVariant, date time.Time, bucket *variantBucket) *models.DailyVariantMetric {
	revenue := bucket.grossRevenue.Sub(bucket.discountAmount).Sub(bucket.refundAmount)

	discountRate := decimal.Zero
	refundRate := decimal.Zero
	if bucket.grossRevenue.IsPositive() {
		discountRate = bucket.discountAmount.Div(bucket.grossRevenue).Mul(hundred)
		refundRate = bucket.refundAmount.Div(bucket.grossRevenue).Mul(hundred)
	}

	avgOrderValue := decimal.Zero
	if bucket.orderCount > 0 {
		avgOrderValue = revenue.Div(decimal.NewFromInt(int64(bucket.orderCount)))
	}

	// Inventory at day end is what the variant reports now; the day's start
	// is reconstructed by adding back what the day sold.
	inventoryEnd := variant.InventoryQuantity
	inventoryStart := inventoryEnd + bucket.unitsSold
	sellThroughRate := decimal.Zero
	if inventoryStart > 0 {
		sellThroughRate = decimal.NewFromInt(int64(bucket.unitsSold)).
			Div(decimal.NewFromInt(int64(inventoryStart))).
			Mul(hundred)
	}

	return &models.DailyVariantMetric{
		VariantId:            variant.ExternalId,
		Date:                 date,
		UnitsSold:            bucket.unitsSold,
		OrderCount:           bucket.orderCount,
		UniqueCustomers:      len(bucket.customerIds),
		GrossRevenue:         bucket.grossRevenue,
		DiscountAmount:       bucket.discountAmount,
		RefundAmount:         bucket.refundAmount,
		RefundCount:          bucket.refundCount,
		Revenue:              revenue,
		DiscountRate:         discountRate,
		RefundRate:           refundRate,
		AvgOrderValue:        avgOrderValue,
		InventoryStart:       inventoryStart,
		InventoryEnd:         inventoryEnd,
		SellThroughRate:      sellThroughRate,
		PriceAtTime:          variant.Price,
		CompareAtPriceAtTime: variant.CompareAtPrice,
		AggregatedAt:         e.now().UTC(),
	}
}

// AggregateCustomerMetrics recomputes lifetime aggregates for every customer
// with at least one non-cancelled order. Identity fields seeded by customer
// ingestion are preserved; the computed fields are fully replaced.
func (e *Engine) AggregateCustomerMetrics(ctx context.Context) error {
	orders, err := e.store.NonCancelledCustomerOrders(ctx)
	if err != nil {
		return err
	}

	type customerBucket struct {
		ordersCount int
		totalSpent  decimal.Decimal
		firstOrder  time.Time
		lastOrder   time.Time
	}
	buckets := make(map[string]*customerBucket)
	for i := range orders {
		order := &orders[i]
		bucket, ok := buckets[order.CustomerId]
		if !ok {
			bucket = &customerBucket{
				totalSpent: decimal.Zero,
				firstOrder: order.OrderCreatedAt,
				lastOrder:  order.OrderCreatedAt,
			}
			buckets[order.CustomerId] = bucket
		}
		bucket.ordersCount++
		bucket.totalSpent = bucket.totalSpent.Add(order.TotalPrice)
		if order.OrderCreatedAt.Before(bucket.firstOrder) {
			bucket.firstOrder = order.OrderCreatedAt
		}
		if order.OrderCreatedAt.After(bucket.lastOrder) {
			bucket.lastOrder = order.OrderCreatedAt
		}
	}

	now := e.now().UTC()
	var written int
	for customerId, bucket := range buckets {
		metric, err := e.store.GetCustomerMetricByExternalId(ctx, customerId)
		if err != nil {
			return err
		}
		if metric == nil {
			metric = &models.CustomerMetric{ExternalId: customerId}
		}

		count := decimal.NewFromInt(int64(bucket.ordersCount))
		metric.OrdersCount = bucket.ordersCount
		metric.TotalSpent = bucket.totalSpent
		metric.AvgOrderValue = bucket.totalSpent.Div(count)
		metric.LifetimeValue = bucket.totalSpent
		metric.IsRepeatCustomer = bucket.ordersCount > 1
		metric.RepeatPurchaseRate = decimal.NewFromInt(int64(bucket.ordersCount - 1)).Div(count).Mul(hundred)

		firstOrder := bucket.firstOrder
		lastOrder := bucket.lastOrder
		metric.FirstOrderDate = &firstOrder
		metric.LastOrderDate = &lastOrder
		daysSince := int(now.Sub(lastOrder).Hours() / 24)
		metric.DaysSinceLastOrder = &daysSince

		if err := e.store.SaveCustomerMetric(ctx, metric); err != nil {
			return err
		}
		written++
	}

	e.logger.WithContext(ctx).WithFields(logrus.Fields{
		"orders":    len(orders),
		"customers": written,
	}).Info("customer metrics aggregated")
	return nil
}
