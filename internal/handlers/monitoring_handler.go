package handlers

import (
	"context"
	"net/http"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type MonitoringHandler struct {
	monitoringService services.MonitoringService
	logger            *zap.Logger
}

func NewMonitoringHandler(monitoringService services.MonitoringService, logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		monitoringService: monitoringService,
		logger:            logger,
	}
}

// GetMetrics maneja la petición HTTP para obtener métricas
func (h *MonitoringHandler) GetMetrics(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "get_metrics"))

	metrics := h.monitoringService.GetMetrics(c.Request.Context())

	logger.Info("Métricas obtenidas exitosamente",
		zap.Int64("total_requests", metrics.Requests.TotalRequests),
		zap.Int64("total_movements", metrics.Ledger.TotalMovements),
		zap.Int("feed_clients", metrics.Feed.Clients))

	c.JSON(http.StatusOK, metrics)
}

// upgrader configuración compartida de WebSocket (métricas y feed)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Permitir todas las conexiones para desarrollo
	},
}

// WebSocketMetrics envía las métricas en tiempo real cada 10 segundos
func (h *MonitoringHandler) WebSocketMetrics(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "websocket_metrics"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Error actualizando a WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	logger.Info("Conexión WebSocket establecida")

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			metrics := h.monitoringService.GetMetrics(ctx)
			cancel()

			if err := conn.WriteJSON(metrics); err != nil {
				logger.Error("Error enviando métricas por WebSocket", zap.Error(err))
				return
			}

			logger.Debug("Métricas enviadas por WebSocket",
				zap.Int64("total_requests", metrics.Requests.TotalRequests),
				zap.String("timestamp", metrics.Timestamp))

		case <-c.Request.Context().Done():
			logger.Info("Conexión WebSocket cerrada por contexto")
			return
		}
	}
}

// RecordRequestMiddleware middleware para registrar requests
func (h *MonitoringHandler) RecordRequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.Request.URL.Path
		if h.shouldSkipMonitoring(path) {
			return
		}

		// FullPath agrupa /stock/:material en una sola entrada
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = path
		}

		h.monitoringService.RecordRequest(models.RequestData{
			Endpoint:   endpoint,
			Method:     c.Request.Method,
			Duration:   time.Since(start),
			StatusCode: c.Writer.Status(),
			Timestamp:  time.Now(),
		})
	}
}

// shouldSkipMonitoring determina si un endpoint debe ser excluido del monitoring
func (h *MonitoringHandler) shouldSkipMonitoring(path string) bool {
	excludedPaths := []string{
		"/api/v1/monitoring/metrics",
		"/api/v1/monitoring/metrics/summary",
		"/api/v1/monitoring/ws",
		"/api/v1/stock/feed",
		"/health/monitoring",
		"/health",
		"/",
	}

	for _, excludedPath := range excludedPaths {
		if path == excludedPath {
			return true
		}
	}

	return false
}

// HealthCheck endpoint de health check
func (h *MonitoringHandler) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	deps := gin.H{
		"database": "online",
		"redis":    "online",
		"cache":    "online",
	}
	health := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0",
		"services":  deps,
	}

	// Redis deshabilitado no degrada el servicio
	redisMetrics := h.monitoringService.GetRedisStats(ctx)
	switch {
	case redisMetrics.Status == "disabled":
		deps["redis"] = "disabled"
	case !redisMetrics.Connected:
		deps["redis"] = "offline"
		health["status"] = "degraded"
	}

	dbMetrics := h.monitoringService.GetDatabaseStats(ctx)
	switch dbMetrics.Status {
	case "online":
	case "memory":
		deps["database"] = "memory"
	default:
		deps["database"] = "offline"
		health["status"] = "degraded"
	}

	c.JSON(http.StatusOK, health)
}

// GetMetricsSummary endpoint para métricas resumidas
func (h *MonitoringHandler) GetMetricsSummary(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "get_metrics_summary"))

	metrics := h.monitoringService.GetMetrics(c.Request.Context())

	summary := gin.H{
		"requests": gin.H{
			"total":         metrics.Requests.TotalRequests,
			"endpoints":     len(metrics.Requests.ByEndpoint),
			"errors":        len(metrics.Requests.Errors),
			"slow_requests": len(metrics.Requests.SlowRequests),
		},
		"ledger": gin.H{
			"movements":        metrics.Ledger.TotalMovements,
			"by_kind":          metrics.Ledger.MovementsByKind,
			"conflict_retries": metrics.Ledger.ConflictRetries,
			"conflicts":        metrics.Ledger.Conflicts,
			"partial_receipts": metrics.Ledger.PartialReceipts,
		},
		"cache": gin.H{
			"hit_rate":   metrics.Cache.HitRatePercentage,
			"total_keys": metrics.Cache.TotalKeys,
		},
		"database": gin.H{
			"open_connections": metrics.Database.OpenConnections,
			"in_use":           metrics.Database.InUse,
			"status":           metrics.Database.Status,
		},
		"system": gin.H{
			"heap_used":  metrics.System.HeapUsed,
			"goroutines": metrics.System.Goroutines,
			"uptime":     metrics.System.UptimeHours,
			"platform":   metrics.System.Platform,
		},
		"redis": gin.H{
			"connected": metrics.Redis.Connected,
			"keys":      metrics.Redis.Keys,
			"memory":    metrics.Redis.MemoryMB,
			"status":    metrics.Redis.Status,
		},
		"feed": gin.H{
			"clients":   metrics.Feed.Clients,
			"published": metrics.Feed.Published,
			"dropped":   metrics.Feed.Dropped,
		},
		"timestamp": metrics.Timestamp,
	}

	logger.Info("Resumen de métricas generado",
		zap.Int64("total_requests", metrics.Requests.TotalRequests),
		zap.Int64("total_movements", metrics.Ledger.TotalMovements))

	c.JSON(http.StatusOK, summary)
}
