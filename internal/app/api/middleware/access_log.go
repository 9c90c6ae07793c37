package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/pkg/logctx"
)

// AccessLogMiddleware logs HTTP access using the request-scoped logger
// previously attached by RequestLoggerMiddleware.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		log := logctx.FromGin(c, nil)
		if log == nil {
			return
		}
		fields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if tenant := c.GetString(TenantIDKey); tenant != "" {
			fields = append(fields, "tenant_id", tenant)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		logAccess(log, c.Writer.Status(), fields)
	}
}

func logAccess(log *zap.SugaredLogger, status int, fields []any) {
	if status >= 500 {
		log.Warnw("http_access", fields...)
		return
	}
	log.Infow("http_access", fields...)
}
