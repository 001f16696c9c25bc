package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/bloodbank/internal/server/handlers"
)

// New wires the Gin engine with required routes and middlewares. metrics may
// be nil, in which case /metrics is not served.
func New(inventory *handlers.InventoryHandler, requests *handlers.RequestHandler, metrics http.Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(zapLoggerMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/api/v1")
	{
		api.POST("/units", inventory.AddUnit)
		api.POST("/units/release", inventory.Release)
		api.POST("/units/discard", inventory.Discard)
		api.POST("/dispatch", inventory.Dispatch)
		api.POST("/sweep", inventory.Sweep)
		api.POST("/allocate", inventory.Allocate)
		api.GET("/stock", inventory.Stock)
		api.GET("/stock/:type", inventory.StockByType)

		api.POST("/requests", requests.Submit)
		api.GET("/requests", requests.List)
		api.GET("/requests/:id", requests.Get)
		api.POST("/requests/:id/reserve", requests.Reserve)
		api.POST("/requests/:id/cancel", requests.Cancel)
		api.POST("/requests/:id/reject", requests.Reject)
		api.POST("/requests/:id/receipt", requests.Receipt)
		api.POST("/requests/:id/notes", requests.AddNote)
	}

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
