// Package handler exposes the chat over HTTP: the WebSocket endpoint, the room
// and history REST API and token issuance.
package handler

import (
	"net/http"
	"time"

	"medchat/backend/internal/chathub"
	"medchat/backend/internal/config"
	"medchat/backend/internal/storage"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler holds the dependencies of the HTTP layer.
type Handler struct {
	Hub       *chathub.ManagerService
	Storage   storage.Storage
	JWTSecret string
	Logger    *zap.Logger
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, jwtSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Hub: hub, Storage: s, JWTSecret: jwtSecret, Logger: logger}
}

// NewRouter builds the gin engine with every route of the service.
func NewRouter(h *Handler, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Logger))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/healthz", h.Healthz)
	if cfg.IsDev() {
		r.POST("/auth/token", h.IssueDevToken)
	}
	r.GET("/ws", h.AuthRequired(), h.ServeWebSocket)

	api := r.Group("/api", h.AuthRequired())
	{
		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms", h.ProvisionRoom)
		api.GET("/rooms/:id/messages", h.GetHistory)
		api.GET("/users/search", h.SearchUsers)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	return cc
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
