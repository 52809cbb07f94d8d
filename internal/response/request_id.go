package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKeyRequestID is the Gin context key the response metadata builder
// reads the request id from.
const ContextKeyRequestID = "request_id"

// RequestIDMiddleware tags every request with an id so a failed session
// mutation can be correlated across the envelope metadata, the logs, and
// the client's retry. The client's own X-Request-ID is honored when
// present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}
