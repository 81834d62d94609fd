package middleware

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/constant"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/service"
	"github.com/relayhub/relayhub/types"
)

const maxRequestBodySize = 32 * 1024 * 1024

// Distribute parses the request body exactly once, validates it and stashes
// the decoded request, fingerprint and routing hints in the gin context so
// downstream retries never re-read the body.
func Distribute() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBodySize))
		if err != nil {
			abortWithMessage(c, http.StatusBadRequest, string(types.ErrorCodeInvalidRequest), "read request body failed: "+err.Error())
			return
		}
		_ = c.Request.Body.Close()

		request := &dto.RelayRequest{}
		if err := common.Unmarshal(body, request); err != nil {
			abortWithMessage(c, http.StatusBadRequest, string(types.ErrorCodeInvalidRequest), "invalid request body: "+err.Error())
			return
		}
		if request.Model == "" {
			abortWithMessage(c, http.StatusBadRequest, string(types.ErrorCodeInvalidRequest), "model is required")
			return
		}
		if len(request.Messages) == 0 {
			abortWithMessage(c, http.StatusBadRequest, string(types.ErrorCodeInvalidRequest), "messages must not be empty")
			return
		}

		c.Set(constant.ContextKeyRequestBody, request)
		c.Set(constant.ContextKeyOriginModel, request.Model)
		c.Set(constant.ContextKeyIsStream, request.Stream)
		c.Set(constant.ContextKeyFingerprint, service.RequestFingerprint(request))
		c.Next()
	}
}
