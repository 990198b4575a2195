package utils

import (
	"context"

	"bitbucket.org/metrifyhq/metrify_backend/appctx"
	"github.com/google/uuid"
)

func GetShopDomainFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyShopDomain)
}

func SetShopDomainInContext(ctx context.Context, shopDomain string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyShopDomain, shopDomain)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyCorrelationId, correlationId)
}

func GetTriggeredByFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, appctx.ContextKeyTriggeredBy)
}

func SetTriggeredByInContext(ctx context.Context, triggeredBy string) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyTriggeredBy, triggeredBy)
}

// CorrelationIdFromContextOrNew never returns an empty id.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
