package routes

import (
	"stock-ledger/internal/handlers"
	"stock-ledger/internal/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers agrupa los handlers que expone el router
type Handlers struct {
	Stock      *handlers.StockHandler
	Material   *handlers.MaterialHandler
	Document   *handlers.DocumentHandler
	Feed       *handlers.FeedHandler
	Monitoring *handlers.MonitoringHandler
	Health     *middleware.HealthChecker
}

// SetupRoutes configura todas las rutas de la aplicación
func SetupRoutes(router *gin.Engine, h Handlers) {
	v1 := router.Group("/api/v1")
	{
		materials := v1.Group("/materials")
		{
			materials.POST("", h.Material.RegisterMaterial)
			materials.GET("/cache-stats", h.Material.GetCacheStats)
			materials.POST("/preload", h.Material.PreloadMaterials)
			materials.GET("/:id", h.Material.GetMaterial)
			materials.DELETE("/:id/cache", h.Material.InvalidateMaterial)
		}

		stock := v1.Group("/stock")
		{
			stock.POST("/movements", h.Stock.RecordMovement)
			stock.GET("/consistency", h.Stock.CheckAll)
			stock.GET("/feed", h.Feed.Stream)

			stock.GET("/:material", h.Stock.GetBalance)
			stock.GET("/:material/movements", h.Stock.GetMovements)
			stock.GET("/:material/consistency", h.Stock.CheckConsistency)
			stock.POST("/:material/rebuild", h.Stock.Rebuild)
			stock.POST("/:material/reserve", h.Stock.Reserve)
			stock.POST("/:material/release", h.Stock.Release)
		}

		v1.POST("/work-orders/:id/complete", h.Document.CompleteWorkOrder)
		v1.POST("/purchases/:id/receive", h.Document.ReceivePurchase)

		if h.Monitoring != nil {
			monitoring := v1.Group("/monitoring")
			{
				monitoring.GET("/metrics", h.Monitoring.GetMetrics)
				monitoring.GET("/metrics/summary", h.Monitoring.GetMetricsSummary)
				monitoring.GET("/ws", h.Monitoring.WebSocketMetrics)
			}
		}
	}

	if h.Health != nil {
		router.GET("/health", h.Health.HealthCheck)
	}
	if h.Monitoring != nil {
		router.GET("/health/monitoring", h.Monitoring.HealthCheck)
	}

	// API info en raíz
	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Stock Ledger API",
			"version": "1.0.0",
			"status":  "running",
			"endpoints": gin.H{
				"health": "/health",
				"api":    "/api/v1",
				"stock": gin.H{
					"registrar_material":   "POST /api/v1/materials",
					"registrar_movimiento": "POST /api/v1/stock/movements",
					"stock_material":       "GET /api/v1/stock/:material",
					"historial":            "GET /api/v1/stock/:material/movements",
					"reconstruir":          "POST /api/v1/stock/:material/rebuild",
					"consistencia":         "GET /api/v1/stock/consistency",
					"feed":                 "GET /api/v1/stock/feed?material=:id",
				},
				"documentos": gin.H{
					"completar_orden": "POST /api/v1/work-orders/:id/complete",
					"recibir_compra":  "POST /api/v1/purchases/:id/receive",
				},
			},
		})
	})
}
