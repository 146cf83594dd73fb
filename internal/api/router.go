package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jengzang/sessionmap/internal/config"
	"github.com/jengzang/sessionmap/internal/handler"
	"github.com/jengzang/sessionmap/internal/middleware"
	"github.com/jengzang/sessionmap/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, sessionService *service.SessionService, mapService *service.MapService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	// CORS 中间件
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Session map API is running",
			"views":   mapService.Count(),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionHandler := handler.NewSessionHandler(sessionService)
	mapHandler := handler.NewMapHandler(mapService, middleware.OriginChecker(cfg.AllowedOrigins))

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(cfg.RateLimit, time.Minute))
	{
		sessions := api.Group("/sessions")
		{
			sessions.GET("/active", sessionHandler.GetActiveSessions)
			sessions.GET("/range", sessionHandler.GetTimeRange)
			sessions.GET("/:id", sessionHandler.GetSessionByID)

			auth := middleware.JWTAuth(cfg.JWTSecret)
			sessions.POST("", auth, sessionHandler.IngestSessions)
			sessions.DELETE("", auth, sessionHandler.PruneSessions)
		}

		maps := api.Group("/map")
		{
			maps.GET("/ws", mapHandler.Connect)
			maps.GET("/views", mapHandler.ListViews)
			maps.GET("/views/:id", mapHandler.GetViewState)
			maps.GET("/views/:id/source", mapHandler.GetViewSource)
		}
	}

	return r
}
