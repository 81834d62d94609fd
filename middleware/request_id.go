package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
)

// RequestId tags every request with an id that travels through the gin
// context, the request context (for the logger) and the response headers.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := common.GetRequestId()
		c.Set(common.RequestIdKey, id)
		ctx := context.WithValue(c.Request.Context(), common.RequestIdKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(common.RequestIdKey, id)
		c.Next()
	}
}
