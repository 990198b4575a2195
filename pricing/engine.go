package pricing

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

// daysOfInventorySentinel stands in for "effectively infinite" when a
// variant has no recent sales.
const daysOfInventorySentinel = 999

// Store is the persistence slice the pricing pass needs.
type Store interface {
	GetVariantByExternalId(ctx context.Context, externalId string) (*models.ProductVariant, error)
	MetricsForVariantSince(ctx context.Context, variantId string, since time.Time) ([]models.DailyVariantMetric, error)
	ListVariantsInStock(ctx context.Context, limit int) ([]models.ProductVariant, error)
	SaveVariant(ctx context.Context, variant *models.ProductVariant) error
}

// PriceUpdater issues the remote price mutation.
type PriceUpdater interface {
	MutateVariantPrice(ctx context.Context, variantGid string, price decimal.Decimal) error
}

// Factors is the scored breakdown behind a recommendation, each on a
// 0..100 scale.
type Factors struct {
	SalesVelocity         float64 `json:"sales_velocity"`
	InventoryPressure     float64 `json:"inventory_pressure"`
	DiscountEffectiveness float64 `json:"discount_effectiveness"`
	SellThroughRate       float64 `json:"sell_through_rate"`
}

// Score is one variant's pricing recommendation. It is ephemeral; only an
// applied price lands in the variant's history.
type Score struct {
	VariantId          string          `json:"variant_id"`
	CurrentPrice       decimal.Decimal `json:"current_price"`
	SuggestedPrice     decimal.Decimal `json:"suggested_price"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent float64         `json:"price_change_percent"`
	Confidence         float64         `json:"confidence"`
	Factors            Factors         `json:"factors"`
	ShouldUpdate       bool            `json:"should_update"`
	Reason             string          `json:"reason"`
}

// Engine scores variants from their trailing daily metrics and, outside of
// dry-run mode, pushes accepted recommendations to the platform.
type Engine struct {
	store   Store
	updater PriceUpdater
	cfg     config.Config
	logger  *logrus.Logger
	now     func() time.Time
}

func NewEngine(store Store, updater PriceUpdater, cfg config.Config, logger *logrus.Logger) *Engine {
	return &Engine{
		store:   store,
		updater: updater,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// ScoreVariant computes a recommendation from the variant's trailing metric
// window. It returns (nil, nil) when the variant is unknown, has no metric
// rows in the window, or has no positive current price to adjust from.
func (e *Engine) ScoreVariant(ctx context.Context, variantId string) (*Score, error) {
	variant, err := e.store.GetVariantByExternalId(ctx, variantId)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, nil
	}

	since := utils.TruncateToDay(e.now().UTC().AddDate(0, 0, -e.cfg.Windows.MetricDays))
	metrics, err := e.store.MetricsForVariantSince(ctx, variantId, since)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		e.logger.WithContext(ctx).WithField("variantId", variantId).Debug("no metrics in scoring window")
		return nil, nil
	}

	currentPrice := variant.CurrentPrice
	if !currentPrice.IsPositive() {
		currentPrice = variant.Price
	}
	if !currentPrice.IsPositive() {
		return nil, nil
	}

	var totalUnits int
	var sumSellThrough, sumDiscountRate, sumRevenue float64
	for _, m := range metrics {
		totalUnits += m.UnitsSold
		sumSellThrough += m.SellThroughRate.InexactFloat64()
		sumDiscountRate += m.DiscountRate.InexactFloat64()
		sumRevenue += m.Revenue.InexactFloat64()
	}
	n := float64(len(metrics))
	avgDailySales := float64(totalUnits) / n
	avgSellThrough := sumSellThrough / n
	avgDiscountRate := sumDiscountRate / n
	avgRevenue := sumRevenue / n

	salesVelocity := math.Min(100, avgDailySales*10)

	daysOfInventory := float64(daysOfInventorySentinel)
	if avgDailySales > 0 {
		daysOfInventory = float64(variant.InventoryQuantity) / avgDailySales
	}
	inventoryPressure := 0.0
	if daysOfInventory < 30 {
		inventoryPressure = (30 - daysOfInventory) / 30 * 100
	}

	discountEffectiveness := 50.0
	if avgDiscountRate > 0 && avgRevenue > 0 {
		discountEffectiveness = math.Min(100, avgRevenue/(avgRevenue+avgRevenue*avgDiscountRate/100)*100)
	}

	multiplier, reason := applyRules(salesVelocity, avgSellThrough, inventoryPressure, avgDiscountRate, variant.InventoryQuantity)

	suggestedPrice := currentPrice.Mul(multiplier).Round(2)
	priceChange := suggestedPrice.Sub(currentPrice)
	priceChangePercent := priceChange.Div(currentPrice).Mul(decimal.NewFromInt(100)).InexactFloat64()

	shouldUpdate := math.Abs(priceChangePercent) > 0.5
	if math.Abs(priceChangePercent) > e.cfg.Pricing.MaxChangePercent {
		shouldUpdate = false
		reason += " (exceeds max change limit)"
	}
	if variant.InventoryQuantity < e.cfg.Pricing.MinInventoryThreshold {
		shouldUpdate = false
		reason += " (inventory below threshold)"
	}

	confidence := math.Min(100, n/30*100)

	return &Score{
		VariantId:          variantId,
		CurrentPrice:       currentPrice,
		SuggestedPrice:     suggestedPrice,
		PriceChange:        priceChange,
		PriceChangePercent: priceChangePercent,
		Confidence:         confidence,
		Factors: Factors{
			SalesVelocity:         salesVelocity,
			InventoryPressure:     inventoryPressure,
			DiscountEffectiveness: discountEffectiveness,
			SellThroughRate:       avgSellThrough,
		},
		ShouldUpdate: shouldUpdate,
		Reason:       reason,
	}, nil
}

// applyRules picks the price multiplier; first matching rule wins.
func applyRules(salesVelocity, sellThroughRate, inventoryPressure, avgDiscountRate float64, inventoryQuantity int) (decimal.Decimal, string) {
	switch {
	case salesVelocity > 60 && inventoryPressure > 50:
		return decimal.NewFromFloat(1.03), "High demand with low inventory"
	case sellThroughRate > 70 && inventoryPressure < 30:
		return decimal.NewFromFloat(1.02), "Strong sell-through rate"
	case salesVelocity < 20 && inventoryPressure < 10 && inventoryQuantity > 50:
		return decimal.NewFromFloat(0.97), "Slow-moving inventory"
	case salesVelocity < 10 && inventoryQuantity > 100:
		return decimal.NewFromFloat(0.95), "Excess inventory clearance"
	case avgDiscountRate > 20:
		return decimal.NewFromFloat(0.98), "High discount dependency"
	default:
		return decimal.NewFromInt(1), "No change recommended"
	}
}

// RunPricingPass scores every in-stock variant in a bounded batch and
// applies accepted recommendations. A failed remote mutation is logged and
// skipped; it is not retried within the pass. In dry-run mode nothing is
// mutated, locally or remotely.
func (e *Engine) RunPricingPass(ctx context.Context) error {
	dryRun := e.cfg.Pricing.DryRun
	e.logger.WithContext(ctx).WithField("dryRun", dryRun).Info("pricing pass started")

	variants, err := e.store.ListVariantsInStock(ctx, e.cfg.PricingBatchLimit)
	if err != nil {
		return err
	}

	var analyzed, updated, skipped int
	var sumConfidence, sumAppliedChange float64
	for i := range variants {
		variant := &variants[i]

		score, err := e.ScoreVariant(ctx, variant.ExternalId)
		if err != nil {
			config.LogError(e.logger, "pricing", "RunPricingPass", "score variant", variant.ExternalId, err)
			skipped++
			continue
		}
		if score == nil {
			skipped++
			continue
		}
		analyzed++
		sumConfidence += score.Confidence

		if !score.ShouldUpdate {
			continue
		}

		e.logger.WithContext(ctx).WithFields(logrus.Fields{
			"variantId":      score.VariantId,
			"sku":            variant.Sku,
			"currentPrice":   score.CurrentPrice.StringFixed(2),
			"suggestedPrice": score.SuggestedPrice.StringFixed(2),
			"changePercent":  score.PriceChangePercent,
			"reason":         score.Reason,
			"dryRun":         dryRun,
		}).Info("price update recommended")

		if dryRun {
			updated++
			sumAppliedChange += math.Abs(score.PriceChangePercent)
			continue
		}

		if err := e.updater.MutateVariantPrice(ctx, variant.Gid, score.SuggestedPrice); err != nil {
			config.LogError(e.logger, "pricing", "RunPricingPass", "mutate variant price", variant.ExternalId, err)
			continue
		}

		now := e.now().UTC()
		variant.CurrentPrice = score.SuggestedPrice
		variant.LastPriceUpdate = &now
		variant.AppendPriceEntry(score.SuggestedPrice, now, score.Reason)
		if err := e.store.SaveVariant(ctx, variant); err != nil {
			config.LogError(e.logger, "pricing", "RunPricingPass", "persist applied price", variant.ExternalId, err)
			continue
		}
		updated++
		sumAppliedChange += math.Abs(score.PriceChangePercent)
	}

	fields := logrus.Fields{
		"totalVariants": len(variants),
		"analyzed":      analyzed,
		"skipped":       skipped,
		"updates":       updated,
		"dryRun":        dryRun,
	}
	if analyzed > 0 {
		fields["avgConfidence"] = sumConfidence / float64(analyzed)
	}
	if updated > 0 {
		fields["avgPriceChange"] = sumAppliedChange / float64(updated)
	}
	e.logger.WithContext(ctx).WithFields(fields).Info("pricing pass finished")
	return nil
}
