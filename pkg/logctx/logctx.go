package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ctxKey string

const (
	// GinLoggerKey and GinTraceIDKey are the gin.Context keys set by middleware.
	GinLoggerKey  = "logger"
	GinTraceIDKey = "traceID"

	loggerKey  ctxKey = "logger"
	traceIDKey ctxKey = "traceID"
	tenantKey  ctxKey = "tenant_id"
	actorKey   ctxKey = "actor"
)

func WithLogger(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithTenant(ctx context.Context, tenantID, actor string) context.Context {
	ctx = context.WithValue(ctx, tenantKey, tenantID)
	return context.WithValue(ctx, actorKey, actor)
}

func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(traceIDKey).(string)
	return s
}

func TenantID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(tenantKey).(string)
	return s
}

func Actor(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(actorKey).(string)
	return s
}

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(GinLoggerKey); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id/tenant_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	if lg, ok := ctx.Value(loggerKey).(*zap.SugaredLogger); ok && lg != nil {
		return lg
	}
	var fields []interface{}
	if tid := TraceID(ctx); tid != "" {
		fields = append(fields, "trace_id", tid)
	}
	if tenant := TenantID(ctx); tenant != "" {
		fields = append(fields, "tenant_id", tenant)
	}
	if len(fields) > 0 && base != nil {
		return base.With(fields...)
	}
	return base
}
