package aggregation

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/models"
)

type fakeStore struct {
	orders    []models.Order
	variants  map[string]*models.ProductVariant
	metrics   map[string]models.DailyVariantMetric
	customers map[string]*models.CustomerMetric
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		variants:  make(map[string]*models.ProductVariant),
		metrics:   make(map[string]models.DailyVariantMetric),
		customers: make(map[string]*models.CustomerMetric),
	}
}

func metricKey(variantId string, date time.Time) string {
	return fmt.Sprintf("%s|%s", variantId, date.Format("2006-01-02"))
}

func (f *fakeStore) OrdersCreatedBetween(_ context.Context, from, to time.Time) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.IsCancelled() {
			continue
		}
		if !o.OrderCreatedAt.Before(from) && o.OrderCreatedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetVariantByExternalId(_ context.Context, externalId string) (*models.ProductVariant, error) {
	return f.variants[externalId], nil
}

func (f *fakeStore) UpsertDailyVariantMetric(_ context.Context, metric *models.DailyVariantMetric) error {
	f.metrics[metricKey(metric.VariantId, metric.Date)] = *metric
	return nil
}

func (f *fakeStore) NonCancelledCustomerOrders(_ context.Context) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.IsCancelled() || o.CustomerId == "" {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeStore) GetCustomerMetricByExternalId(_ context.Context, externalId string) (*models.CustomerMetric, error) {
	return f.customers[externalId], nil
}

func (f *fakeStore) SaveCustomerMetric(_ context.Context, metric *models.CustomerMetric) error {
	copied := *metric
	f.customers[metric.ExternalId] = &copied
	return nil
}

func testEngine(store *fakeStore, now time.Time) *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	e := NewEngine(store, logger)
	e.now = func() time.Time { return now }
	return e
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testDay = time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

func orderAt(hour int) time.Time { return testDay.Add(time.Duration(hour) * time.Hour) }

func seedVariant(store *fakeStore, id string, inventory int, price string) {
	store.variants[id] = &models.ProductVariant{
		ExternalId:        id,
		InventoryQuantity: inventory,
		Price:             d(price),
	}
}

func TestAggregateDailyVariantMetricsBasic(t *testing.T) {
	store := newFakeStore()
	seedVariant(store, "v1", 8, "25.00")
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			CustomerId:     "c1",
			TotalPrice:     d("50.00"),
			OrderCreatedAt: orderAt(10),
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 2, UnitPrice: d("25.00"), TotalDiscount: d("5.00")},
			},
		},
	}

	engine := testEngine(store, testDay.Add(30*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	m, ok := store.metrics[metricKey("v1", testDay)]
	if !ok {
		t.Fatal("expected metric row for v1")
	}
	if m.UnitsSold != 2 || m.OrderCount != 1 || m.UniqueCustomers != 1 {
		t.Fatalf("unexpected counters: %+v", m)
	}
	if !m.GrossRevenue.Equal(d("50.00")) {
		t.Fatalf("grossRevenue = %s, want 50", m.GrossRevenue)
	}
	if !m.Revenue.Equal(d("45.00")) {
		t.Fatalf("revenue = %s, want 45", m.Revenue)
	}
	if !m.DiscountRate.Equal(d("10")) {
		t.Fatalf("discountRate = %s, want 10", m.DiscountRate)
	}
	if m.InventoryStart != 10 || m.InventoryEnd != 8 {
		t.Fatalf("inventory start/end = %d/%d, want 10/8", m.InventoryStart, m.InventoryEnd)
	}
	if !m.SellThroughRate.Equal(d("20")) {
		t.Fatalf("sellThroughRate = %s, want 20", m.SellThroughRate)
	}
	if !m.PriceAtTime.Equal(d("25.00")) {
		t.Fatalf("priceAtTime = %s, want 25", m.PriceAtTime)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	store := newFakeStore()
	seedVariant(store, "v1", 5, "10.00")
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			TotalPrice:     d("30.00"),
			OrderCreatedAt: orderAt(3),
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 3, UnitPrice: d("10.00")},
			},
			Refunds: models.Refunds{{RefundId: "r1", Amount: d("10.00"), CreatedAt: orderAt(5)}},
		},
	}

	engine := testEngine(store, testDay.Add(26*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := store.metrics[metricKey("v1", testDay)]

	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := store.metrics[metricKey("v1", testDay)]

	if first.UnitsSold != second.UnitsSold ||
		!first.GrossRevenue.Equal(second.GrossRevenue) ||
		!first.RefundAmount.Equal(second.RefundAmount) ||
		first.RefundCount != second.RefundCount ||
		!first.Revenue.Equal(second.Revenue) {
		t.Fatalf("re-run diverged:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestRefundAllocationIsProportional(t *testing.T) {
	store := newFakeStore()
	seedVariant(store, "v1", 100, "60.00")
	seedVariant(store, "v2", 100, "40.00")
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			TotalPrice:     d("100.00"),
			OrderCreatedAt: orderAt(12),
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 1, UnitPrice: d("60.00")},
				{VariantId: "v2", Quantity: 1, UnitPrice: d("40.00")},
			},
			Refunds: models.Refunds{{RefundId: "r1", Amount: d("30.00"), CreatedAt: orderAt(20)}},
		},
	}

	engine := testEngine(store, testDay.Add(25*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	m1 := store.metrics[metricKey("v1", testDay)]
	m2 := store.metrics[metricKey("v2", testDay)]
	if !m1.RefundAmount.Equal(d("18.00")) {
		t.Fatalf("v1 refundAmount = %s, want 18", m1.RefundAmount)
	}
	if !m2.RefundAmount.Equal(d("12.00")) {
		t.Fatalf("v2 refundAmount = %s, want 12", m2.RefundAmount)
	}
	// One refund touching two lines counts once per line.
	if m1.RefundCount != 1 || m2.RefundCount != 1 {
		t.Fatalf("refundCount = %d/%d, want 1/1", m1.RefundCount, m2.RefundCount)
	}
}

func TestGrossRevenueConservation(t *testing.T) {
	store := newFakeStore()
	seedVariant(store, "v1", 50, "12.50")
	seedVariant(store, "v2", 50, "8.00")
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			TotalPrice:     d("41.00"),
			OrderCreatedAt: orderAt(1),
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 2, UnitPrice: d("12.50")},
				{VariantId: "v2", Quantity: 2, UnitPrice: d("8.00")},
			},
		},
	}

	engine := testEngine(store, testDay.Add(25*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	total := decimal.Zero
	for _, m := range store.metrics {
		total = total.Add(m.GrossRevenue)
	}
	if !total.Equal(d("41.00")) {
		t.Fatalf("gross revenue total = %s, want 41", total)
	}
}

func TestAggregateBounds(t *testing.T) {
	store := newFakeStore()
	// Inventory already at zero after selling everything.
	seedVariant(store, "v1", 0, "5.00")
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			TotalPrice:     d("50.00"),
			OrderCreatedAt: orderAt(9),
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 10, UnitPrice: d("5.00")},
			},
		},
	}

	engine := testEngine(store, testDay.Add(25*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	m := store.metrics[metricKey("v1", testDay)]
	if m.SellThroughRate.LessThan(decimal.Zero) || m.SellThroughRate.GreaterThan(d("100")) {
		t.Fatalf("sellThroughRate out of bounds: %s", m.SellThroughRate)
	}
	if m.InventoryStart < m.InventoryEnd {
		t.Fatalf("inventoryStart %d < inventoryEnd %d", m.InventoryStart, m.InventoryEnd)
	}
	if !m.SellThroughRate.Equal(d("100")) {
		t.Fatalf("sellThroughRate = %s, want 100", m.SellThroughRate)
	}
}

func TestUnknownVariantIsSkipped(t *testing.T) {
	store := newFakeStore()
	seedVariant(store, "v1", 10, "9.99")
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			TotalPrice:     d("30.00"),
			OrderCreatedAt: orderAt(8),
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 1, UnitPrice: d("9.99")},
				{VariantId: "ghost", Quantity: 2, UnitPrice: d("10.00")},
			},
		},
	}

	engine := testEngine(store, testDay.Add(25*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if _, ok := store.metrics[metricKey("v1", testDay)]; !ok {
		t.Fatal("known variant must still be written")
	}
	if _, ok := store.metrics[metricKey("ghost", testDay)]; ok {
		t.Fatal("unknown variant must be skipped")
	}
}

func TestCancelledOrdersExcluded(t *testing.T) {
	store := newFakeStore()
	seedVariant(store, "v1", 10, "9.99")
	cancelled := orderAt(2)
	store.orders = []models.Order{
		{
			ExternalId:     "o1",
			TotalPrice:     d("9.99"),
			OrderCreatedAt: orderAt(1),
			CancelledAt:    &cancelled,
			LineItems: models.OrderLineItems{
				{VariantId: "v1", Quantity: 1, UnitPrice: d("9.99")},
			},
		},
	}

	engine := testEngine(store, testDay.Add(25*time.Hour))
	if err := engine.AggregateDailyVariantMetrics(context.Background(), testDay); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(store.metrics) != 0 {
		t.Fatalf("cancelled orders must not produce metrics, got %d rows", len(store.metrics))
	}
}

func TestAggregateCustomerMetrics(t *testing.T) {
	store := newFakeStore()
	first := testDay.AddDate(0, 0, -20)
	last := testDay.AddDate(0, 0, -5)
	store.orders = []models.Order{
		{ExternalId: "o1", CustomerId: "c1", TotalPrice: d("40.00"), OrderCreatedAt: first},
		{ExternalId: "o2", CustomerId: "c1", TotalPrice: d("60.00"), OrderCreatedAt: last},
		{ExternalId: "o3", CustomerId: "c2", TotalPrice: d("25.00"), OrderCreatedAt: last},
	}

	engine := testEngine(store, testDay)
	if err := engine.AggregateCustomerMetrics(context.Background()); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	c1 := store.customers["c1"]
	if c1 == nil {
		t.Fatal("expected metrics for c1")
	}
	if c1.OrdersCount != 2 || !c1.TotalSpent.Equal(d("100.00")) {
		t.Fatalf("c1 counters: %+v", c1)
	}
	if !c1.AvgOrderValue.Equal(d("50.00")) {
		t.Fatalf("c1 avgOrderValue = %s, want 50", c1.AvgOrderValue)
	}
	if !c1.IsRepeatCustomer {
		t.Fatal("c1 must be a repeat customer")
	}
	if !c1.RepeatPurchaseRate.Equal(d("50")) {
		t.Fatalf("c1 repeatPurchaseRate = %s, want 50", c1.RepeatPurchaseRate)
	}
	if c1.FirstOrderDate == nil || !c1.FirstOrderDate.Equal(first) {
		t.Fatalf("c1 firstOrderDate = %v, want %v", c1.FirstOrderDate, first)
	}
	if c1.DaysSinceLastOrder == nil || *c1.DaysSinceLastOrder != 5 {
		t.Fatalf("c1 daysSinceLastOrder = %v, want 5", c1.DaysSinceLastOrder)
	}

	c2 := store.customers["c2"]
	if c2 == nil || c2.IsRepeatCustomer {
		t.Fatalf("c2 must be a one-time customer: %+v", c2)
	}
	if !c2.RepeatPurchaseRate.Equal(decimal.Zero) {
		t.Fatalf("c2 repeatPurchaseRate = %s, want 0", c2.RepeatPurchaseRate)
	}
}

func TestCustomerMetricsPreserveIdentityFields(t *testing.T) {
	store := newFakeStore()
	store.customers["c1"] = &models.CustomerMetric{
		ExternalId: "c1",
		Email:      "jo@example.com",
		FirstName:  "Jo",
	}
	store.orders = []models.Order{
		{ExternalId: "o1", CustomerId: "c1", TotalPrice: d("10.00"), OrderCreatedAt: testDay.AddDate(0, 0, -1)},
	}

	engine := testEngine(store, testDay)
	if err := engine.AggregateCustomerMetrics(context.Background()); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	c1 := store.customers["c1"]
	if c1.Email != "jo@example.com" || c1.FirstName != "Jo" {
		t.Fatalf("identity fields must survive recompute: %+v", c1)
	}
	if c1.OrdersCount != 1 {
		t.Fatalf("ordersCount = %d, want 1", c1.OrdersCount)
	}
}
