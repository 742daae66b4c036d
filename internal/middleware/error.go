package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/bloodbank-api/internal/handler"
	apperrors "github.com/jwalitptl/bloodbank-api/pkg/errors"
	"github.com/jwalitptl/bloodbank-api/pkg/logger"
)

// ErrorHandler renders the last error attached to the context. AppErrors keep
// their status and kind; anything else is reported as an internal error and
// its text never reaches the client.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		kind := "INTERNAL"
		message := "internal error"
		if appErr, ok := apperrors.As(err); ok {
			status = appErr.StatusCode()
			kind = appErr.Kind()
			message = appErr.PublicMessage()
		}

		fields := map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     status,
			"kind":       kind,
		}
		if status >= http.StatusInternalServerError {
			log.WithFields(fields).Error(err, "Request error")
		} else {
			log.WithFields(fields).Debug("Request rejected", "error", err.Error())
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(status, handler.NewCodedErrorResponse(kind, message))
	}
}
