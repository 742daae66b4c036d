package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

const (
	HeaderXRequestID = "X-Request-ID"
	ContextRequestID = "request_id"
)

// RequestID adds a unique request ID to each request and threads it, with a
// request-scoped logger, into the request context.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" {
			rid = uuid.New().String()
		}

		c.Set(ContextRequestID, rid)
		c.Header(HeaderXRequestID, rid)

		ctx := logger.WithRequestID(c.Request.Context(), rid)
		ctx = log.WithFields(map[string]interface{}{"request_id": rid}).IntoContext(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
