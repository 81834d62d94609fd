package controller

import (
	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/middleware"
	"github.com/relayhub/relayhub/relay"
)

// Relay serves POST /v1/messages. All scheduling, retry and failover logic
// lives in the relay package; a returned error here means nothing was
// written to the caller yet.
func Relay(c *gin.Context) {
	if relayErr := relay.RelayMessages(c); relayErr != nil {
		middleware.AbortWithRelayError(c, relayErr)
	}
}
