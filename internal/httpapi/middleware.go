package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"
const requestIDContextKey = "request_id"

// RequestID ensures every request carries a correlation id, echoing a
// caller-supplied one if present and generating one otherwise via
// google/uuid. The id is stamped onto the response header and stashed in
// the gin context so handlers can attach it to their zap log lines.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDContextKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(c *gin.Context, log *zap.Logger) *zap.Logger {
	id, _ := c.Get(requestIDContextKey)
	idStr, _ := id.(string)
	return log.With(zap.String("requestId", idStr))
}
