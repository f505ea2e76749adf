package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/server/handlers"
)

// Handlers groups the HTTP adapters mounted on the engine. Webhook is
// optional and only mounted when the WhatsApp channel is configured.
type Handlers struct {
	Production *handlers.ProductionHandler
	Webhook    *handlers.WebhookHandler
	Metrics    http.Handler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}

	if h.Webhook != nil {
		r.GET("/webhook", h.Webhook.Verify)
		r.POST("/webhook", h.Webhook.Receive)
		r.POST("/send-message", h.Webhook.SendMessage)
	}

	api := r.Group("/api")
	api.GET("/board", h.Production.Board)
	api.POST("/records", h.Production.CreateRecord)
	api.POST("/lots", h.Production.CreateLot)

	records := api.Group("/records/:id")
	records.GET("", h.Production.GetRecord)
	records.POST("/advance", h.Production.Advance)
	records.POST("/start", h.Production.Start)
	records.POST("/preparation", h.Production.CompletePreparation)
	records.POST("/portioning", h.Production.CompletePortioning)
	records.POST("/cancel", h.Production.Cancel)
	records.POST("/loss", h.Production.Loss)
	records.POST("/split", h.Production.Split)
	records.POST("/alarm/silence", h.Production.SilenceAlarm)

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
