package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/logger"
	"github.com/relayhub/relayhub/types"
)

const MaskedErrorMessage = "Internal Server Error"

func abortWithMessage(c *gin.Context, statusCode int, code string, message string) {
	// log the real error before any masking
	logger.LogError(c.Request.Context(), message)
	displayMessage := message
	if common.MaskErrorMessages {
		displayMessage = MaskedErrorMessage
	}
	c.JSON(statusCode, dto.NewErrorResponse(code,
		common.MessageWithRequestId(displayMessage, c.GetString(common.RequestIdKey)), 0))
	c.Abort()
}

// AbortWithRelayError renders a relay error as the buffered error body.
func AbortWithRelayError(c *gin.Context, relayErr *types.RelayError) {
	statusCode := relayErr.StatusCode
	if statusCode == 0 {
		statusCode = http.StatusBadGateway
	}
	abortWithMessage(c, statusCode, string(relayErr.Code), relayErr.Message)
}
