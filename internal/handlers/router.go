package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/config"
	"github.com/mossy-p/lanmesh/internal/middleware"
)

// NewRouter wires every HTTP and websocket route of the relay server.
func NewRouter(cfg *config.Config, hub *Hub, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret, log))
		apiGroup.GET("/rooms/:room", hub.GetRoom)
		apiGroup.DELETE("/rooms/:room", middleware.JWTAuth(cfg.JWTSecret), hub.DeleteRoom)
	}

	router.GET("/ws", hub.HandleWebSocket)
	return router
}
