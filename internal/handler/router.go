package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/middleware"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/logger"
)

// ipRequestLimit bounds requests per client IP per minute on the API group.
const ipRequestLimit = 600

func NewRouter(handlers *Handlers, services *service.Services, cfg *config.Config, log logger.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authMiddleware := middleware.NewAuthMiddleware(services.Auth, log)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(services.RateLimit, ipRequestLimit, time.Minute, log)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.EndpointHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.ErrorHandler(log))

	// Health check
	router.GET("/health", handlers.Health.Check)
	router.GET("/server-info", handlers.Health.ServerInfo)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Вызовы от других сервисов портала
		internal := v1.Group("/internal")
		internal.Use(middleware.RequireInternalToken(cfg.Server.InternalToken, log))
		{
			internal.POST("/notifications", handlers.Notification.Emit)
		}

		// Защищенные endpoints
		protected := v1.Group("")
		protected.Use(authMiddleware.RequireAuth())
		{
			protected.GET("/ws", handlers.WebSocket.Handle)

			api := protected.Group("")
			api.Use(rateLimitMiddleware.Limit(), middleware.EndpointMiddleware())
			{
				users := api.Group("/users")
				{
					users.GET("/me", handlers.User.GetMe)
					users.GET("/search", handlers.User.Search)
				}

				conversations := api.Group("/conversations")
				{
					conversations.GET("", handlers.Conversation.List)
					conversations.POST("", handlers.Conversation.Start)
					conversations.GET("/:id/messages", handlers.Conversation.GetMessages)
					conversations.POST("/:id/read", handlers.Conversation.MarkRead)
				}

				api.POST("/messages", handlers.Message.Send)
				api.GET("/unread", handlers.Unread.Get)

				notifications := api.Group("/notifications")
				{
					notifications.GET("", handlers.Notification.List)
					notifications.POST("/clear", handlers.Notification.ClearAll)
					notifications.POST("/:id/read", handlers.Notification.MarkRead)
				}
			}
		}
	}

	return router
}
