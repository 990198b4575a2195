package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/models"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

// registerAPIRoutes mounts the read-only summary endpoints the dashboard
// consumes.
func registerAPIRoutes(router gin.IRouter, store *models.Store, logger *logrus.Logger) {
	api := router.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	})

	api.GET("/variants/:id/metrics", func(c *gin.Context) {
		ctx := c.Request.Context()
		variantId := c.Param("id")

		days := 30
		if v := c.Query("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 365 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
				return
			}
			days = n
		}

		variant, err := store.GetVariantByExternalId(ctx, variantId)
		if err != nil {
			config.LogError(logger, "api", "variantMetrics", "load variant", variantId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if variant == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "variant not found"})
			return
		}

		since := utils.TruncateToDay(time.Now().UTC().AddDate(0, 0, -days))
		metrics, err := store.MetricsForVariantSince(ctx, variantId, since)
		if err != nil {
			config.LogError(logger, "api", "variantMetrics", "load metrics", variantId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"variant": variant,
			"metrics": metrics,
		})
	})

	api.GET("/customers/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		customerId := c.Param("id")

		metric, err := store.GetCustomerMetricByExternalId(ctx, customerId)
		if err != nil {
			config.LogError(logger, "api", "customerMetric", "load customer", customerId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if metric == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "customer not found"})
			return
		}

		c.JSON(http.StatusOK, metric)
	})
}
