package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/model"
	"github.com/relayhub/relayhub/router"
	"github.com/relayhub/relayhub/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		common.SysError("failed to load .env file: " + err.Error())
	}
	common.InitConfig()

	if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := common.InitRedisClient(); err != nil {
		common.FatalLog("failed to initialize Redis: " + err.Error())
	}
	if err := model.InitDB(); err != nil {
		common.FatalLog("failed to initialize database: " + err.Error())
	}
	defer func() {
		if err := model.CloseDB(); err != nil {
			common.SysError("failed to close database: " + err.Error())
		}
	}()

	model.InitAccountCache()
	model.StartAccountCacheSync(common.SyncFrequency)
	service.InitHttpClient()

	server := gin.New()
	server.Use(gin.Recovery())
	router.SetRouter(server)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: server,
	}

	go func() {
		common.SysLog("relayhub listening on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.FatalLog("failed to start HTTP server: " + err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.SysLog("shutting down")
	// In-flight streams get up to the relay timeout to finish.
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(common.RelayTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		common.SysError("forced shutdown: " + err.Error())
	}
}
