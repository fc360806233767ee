package server

import (
	"time"

	"reel-tracker/infrastructure/realtime"
	httpHandler "reel-tracker/interfaces/http"
	"reel-tracker/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var allowedOrigins = []string{"http://localhost:4200", "http://localhost:4201", "https://localhost:4200", "https://localhost:4201"}

func InitiateRouter(
	secretKey string,
	healthHandler httpHandler.IHealthHandler,
	reelHandler httpHandler.IReelHandler,
	reelHub *realtime.ReelHub,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler.Healthz)

	api := router.Group("api")
	api.Use(middleware.Auth(secretKey))

	reels := api.Group("/reels")
	{
		reels.POST("", reelHandler.Submit)
		reels.GET("", reelHandler.List)
		reels.GET("/stats", reelHandler.Stats)
		reels.POST("/refresh", reelHandler.Refresh)
		if reelHub != nil {
			reels.GET("/stream", reelHub.Serve)
		}
		reels.GET("/:id", reelHandler.Get)
		reels.DELETE("/:id", reelHandler.Delete)
		reels.PATCH("/:id/toggle", reelHandler.Toggle)
	}

	api.GET("/refresh-sessions", reelHandler.ListSessions)
	api.GET("/refresh-sessions/:id", reelHandler.GetSession)

	admin := api.Group("/admin", middleware.RequireAdmin())
	{
		admin.GET("/reels", reelHandler.AdminList)
		admin.GET("/stats", reelHandler.AdminStats)
		admin.POST("/refresh", reelHandler.AdminRefresh)
	}

	return router
}
