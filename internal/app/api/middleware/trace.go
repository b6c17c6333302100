package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/prepmed/billing/pkg/logctx"
	"github.com/prepmed/billing/pkg/tool"
)

// TraceMiddleware assigns every request a trace ID and mirrors it to the
// X-Request-ID response header. Provider webhook retries reuse the client's
// X-Request-ID, which lets redeliveries of the same event be correlated in
// the logs and the webhook event log.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = tool.GenerateUUIDV7()
		}

		c.Set(logctx.TraceIDKey, traceID)
		ctx := context.WithValue(c.Request.Context(), logctx.TraceIDKey, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Request-ID", traceID)

		c.Next()
	}
}
