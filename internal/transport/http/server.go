package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/auth"
	"github.com/vovakirdan/channelchat-server/internal/config"
	"github.com/vovakirdan/channelchat-server/internal/core"
	"github.com/vovakirdan/channelchat-server/internal/store"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewServer builds an HTTP server with the websocket endpoint and the REST API.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		stats := hub.Stats()
		c.JSON(stdhttp.StatusOK, gin.H{
			"status":   "ok",
			"sessions": stats.Sessions,
			"rooms":    stats.Rooms,
		})
	})

	ws := NewWSHandler(hub, authService, WSOptions{
		MaxMessageBytes: cfg.MaxMessageBytes,
		PingInterval:    cfg.PingInterval,
		PingTimeout:     cfg.PingTimeout,
	}, logger)
	router.GET("/ws", gin.WrapH(ws))

	authHandlers := NewAuthHandlers(authService, logger)
	channelHandlers := NewChannelHandlers(st, logger)
	adminHandlers := NewAdminHandlers(st, authService, logger)

	api := router.Group("/api")
	{
		api.POST("/auth/register", authHandlers.Register)
		api.POST("/auth/login", authHandlers.Login)
		api.GET("/channels/public", channelHandlers.ListPublic)
		api.GET("/channels/search/:channelId", channelHandlers.Search)

		protected := api.Group("")
		protected.Use(AuthMiddleware(authService, logger))
		{
			protected.GET("/auth/verify", authHandlers.Verify)

			protected.GET("/channels/mine", channelHandlers.Mine)
			protected.POST("/channels", channelHandlers.Create)
			protected.POST("/channels/:channelId/join", channelHandlers.Join)
			protected.POST("/channels/:channelId/leave", channelHandlers.Leave)
			protected.GET("/channels/:channelId/messages", channelHandlers.Messages)
			protected.POST("/channels/:channelId/clean-messages", channelHandlers.CleanMessages)
			protected.DELETE("/channels/:channelId", channelHandlers.Delete)

			admin := protected.Group("/admin")
			admin.Use(AdminMiddleware())
			{
				admin.POST("/codes", adminHandlers.CreateCode)
				admin.GET("/codes", adminHandlers.ListCodes)
				admin.POST("/channels/:channelId/ban", adminHandlers.BanChannel)
				admin.POST("/channels/:channelId/unban", adminHandlers.UnbanChannel)
				admin.POST("/users/:userId/ban", adminHandlers.BanUser)
				admin.POST("/users/:userId/unban", adminHandlers.UnbanUser)
			}
		}
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
