package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the concrete repository over the four synced collections. The
// engines depend on narrow interfaces of their own; Store satisfies all of
// them. All upserts are keyed on external ids so re-running any sync or
// aggregation converges instead of duplicating.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ---- variants ----

// GetVariantByExternalId returns (nil, nil) when the variant is unknown.
func (s *Store) GetVariantByExternalId(ctx context.Context, externalId string) (*ProductVariant, error) {
	var variant ProductVariant
	err := s.db.WithContext(ctx).Where("external_id = ?", externalId).Take(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &variant, nil
}

func (s *Store) GetVariantByInventoryItemId(ctx context.Context, inventoryItemId string) (*ProductVariant, error) {
	var variant ProductVariant
	err := s.db.WithContext(ctx).Where("inventory_item_id = ?", inventoryItemId).Take(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &variant, nil
}

// SaveVariant creates or fully persists a variant row. Callers fetch, merge
// per their replace/preserve policy, then save.
func (s *Store) SaveVariant(ctx context.Context, variant *ProductVariant) error {
	return s.db.WithContext(ctx).Save(variant).Error
}

// ListVariantsInStock returns variants with positive inventory, oldest
// first, capped at limit. The pricing pass iterates this batch.
func (s *Store) ListVariantsInStock(ctx context.Context, limit int) ([]ProductVariant, error) {
	var variants []ProductVariant
	q := s.db.WithContext(ctx).Where("inventory_quantity > 0").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&variants).Error; err != nil {
		return nil, err
	}
	return variants, nil
}

// ---- orders ----

func (s *Store) GetOrderByExternalId(ctx context.Context, externalId string) (*Order, error) {
	var order Order
	err := s.db.WithContext(ctx).Where("external_id = ?", externalId).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) SaveOrder(ctx context.Context, order *Order) error {
	return s.db.WithContext(ctx).Save(order).Error
}

// OrdersCreatedBetween returns non-cancelled orders whose platform creation
// time falls in [from, to).
func (s *Store) OrdersCreatedBetween(ctx context.Context, from, to time.Time) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Where("order_created_at >= ? AND order_created_at < ? AND cancelled_at IS NULL", from, to).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// NonCancelledCustomerOrders returns every non-cancelled order carrying a
// customer reference; customer metrics are derived from this set.
func (s *Store) NonCancelledCustomerOrders(ctx context.Context) ([]Order, error) {
	var orders []Order
	err := s.db.WithContext(ctx).
		Where("customer_id <> '' AND cancelled_at IS NULL").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ---- daily variant metrics ----

// UpsertDailyVariantMetric fully replaces the row for (variant_id, date).
func (s *Store) UpsertDailyVariantMetric(ctx context.Context, metric *DailyVariantMetric) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "variant_id"}, {Name: "date"}},
			UpdateAll: true,
		}).
		Create(metric).Error
}

// MetricsForVariantSince returns the variant's daily rows on or after the
// given day, newest first.
func (s *Store) MetricsForVariantSince(ctx context.Context, variantId string, since time.Time) ([]DailyVariantMetric, error) {
	var metrics []DailyVariantMetric
	err := s.db.WithContext(ctx).
		Where("variant_id = ? AND date >= ?", variantId, since).
		Order("date DESC").
		Find(&metrics).Error
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

func (s *Store) MetricsBetween(ctx context.Context, from, to time.Time) ([]DailyVariantMetric, error) {
	var metrics []DailyVariantMetric
	err := s.db.WithContext(ctx).
		Where("date >= ? AND date < ?", from, to).
		Order("variant_id, date").
		Find(&metrics).Error
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// ---- customer metrics ----

func (s *Store) GetCustomerMetricByExternalId(ctx context.Context, externalId string) (*CustomerMetric, error) {
	var metric CustomerMetric
	err := s.db.WithContext(ctx).Where("external_id = ?", externalId).Take(&metric).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}

func (s *Store) SaveCustomerMetric(ctx context.Context, metric *CustomerMetric) error {
	return s.db.WithContext(ctx).Save(metric).Error
}
