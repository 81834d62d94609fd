package router

import (
	"net/http"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/controller"
	"github.com/relayhub/relayhub/middleware"
)

func SetRouter(server *gin.Engine) {
	server.Use(middleware.RequestId())
	server.Use(cors.Default())

	setRelayRouter(server)
	setApiRouter(server)
}

func setRelayRouter(server *gin.Engine) {
	// No gzip here: compressed SSE defeats incremental delivery.
	v1 := server.Group("/v1")
	v1.Use(middleware.TokenAuth(), middleware.Distribute())
	{
		v1.POST("/messages", controller.Relay)
	}
}

func setApiRouter(server *gin.Engine) {
	api := server.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression), adminAuth())
	{
		accounts := api.Group("/account")
		{
			accounts.GET("/", controller.GetAllAccounts)
			accounts.GET("/:id", controller.GetAccount)
			accounts.POST("/", controller.AddAccount)
			accounts.PUT("/", controller.UpdateAccount)
			accounts.DELETE("/:id", controller.DeleteAccount)
			accounts.POST("/refresh", controller.RefreshAccountCache)
			accounts.POST("/:id/reset", controller.ResetAccountStatus)
			accounts.DELETE("/:id/sessions", controller.ReleaseAccountSessions)
		}
	}
}

// adminAuth guards the management surface with a single operator token.
// With ADMIN_TOKEN unset the surface is disabled outright.
func adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminToken := os.Getenv("ADMIN_TOKEN")
		if adminToken == "" || c.Request.Header.Get("Authorization") != "Bearer "+adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "admin access denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}
