package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bitbucket.org/metrifyhq/metrify_backend/config"
	"bitbucket.org/metrifyhq/metrify_backend/utils"
)

// RegisterRoutes mounts one POST route per event topic. Signature
// verification happens upstream; these routes assume an authenticated
// caller.
func (a *Adapter) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/webhooks")
	group.POST("/orders/create", a.handle("orders/create", a.HandleOrderCreate))
	group.POST("/orders/updated", a.handle("orders/updated", a.HandleOrderUpdate))
	group.POST("/products/update", a.handle("products/update", a.HandleProductUpdate))
	group.POST("/inventory_levels/update", a.handle("inventory_levels/update", a.HandleInventoryUpdate))
	group.POST("/refunds/create", a.handle("refunds/create", a.HandleRefundCreate))
}

func (a *Adapter) handle(topic string, fn func(ctx context.Context, body []byte) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), utils.CorrelationIdFromContextOrNew(c.Request.Context()))

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(a.logger, "webhooks", "handle", "read event body", topic, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		if err := fn(ctx, body); err != nil {
			if isPayloadError(err) {
				config.LogError(a.logger, "webhooks", "handle", "reject event payload", topic, err)
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			config.LogError(a.logger, "webhooks", "handle", "process event", topic, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func isPayloadError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "malformed event payload") || strings.HasPrefix(msg, "invalid event payload")
}
