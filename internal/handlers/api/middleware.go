package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airtimehq/topup-core/internal/domain/ports"
	"github.com/airtimehq/topup-core/pkg/resilience"
)

// requestLogger logs one line per request with latency and status
func requestLogger(logger ports.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []ports.Field{
			ports.String("method", c.Request.Method),
			ports.String("path", c.FullPath()),
			ports.Int("status", c.Writer.Status()),
			ports.Any("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, ports.String("errors", c.Errors.String()))
			logger.Warn("request completed with errors", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}

// requestTimeout bounds every handler with the outermost deadline of the
// timeout hierarchy
func requestTimeout(timeouts *resilience.TimeoutConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := timeouts.HandlerContext(c.Request.Context())
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
