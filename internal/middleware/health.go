package middleware

import (
	"context"
	"net/http"
	"time"

	"stock-ledger/internal/database"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthChecker verifica las dependencias externas. Cualquiera puede ser nil:
// store en memoria o Redis deshabilitado.
type HealthChecker struct {
	postgresDB *database.PostgresDB
	redisDB    *database.RedisDB
	store      string
	logger     *zap.Logger
}

func NewHealthChecker(postgresDB *database.PostgresDB, redisDB *database.RedisDB, store string, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		postgresDB: postgresDB,
		redisDB:    redisDB,
		store:      store,
		logger:     logger,
	}
}

func (h *HealthChecker) HealthCheck(c *gin.Context) {
	services := make(map[string]interface{})
	status := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"store":     h.store,
		"services":  services,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Verificar PostgreSQL
	if h.postgresDB != nil {
		postgresStatus := "healthy"
		if err := h.postgresDB.Ping(ctx); err != nil {
			postgresStatus = "unhealthy"
			status["status"] = "unhealthy"
			h.logger.Error("PostgreSQL health check failed", zap.Error(err))
		}

		postgresStats := h.postgresDB.GetStats()
		services["postgresql"] = gin.H{
			"status": postgresStatus,
			"stats": gin.H{
				"max_open_connections": postgresStats.MaxOpenConnections,
				"open_connections":     postgresStats.OpenConnections,
				"in_use":               postgresStats.InUse,
				"idle":                 postgresStats.Idle,
			},
		}
	} else {
		services["postgresql"] = gin.H{"status": "not_configured"}
	}

	// Verificar Redis; caído degrada el feed entre instancias pero no el ledger
	if h.redisDB != nil {
		redisStatus := "healthy"
		if err := h.redisDB.Ping(ctx); err != nil {
			redisStatus = "unhealthy"
			status["status"] = "degraded"
			h.logger.Error("Redis health check failed", zap.Error(err))
		}

		var redisStats interface{} = "unavailable"
		if stats, err := h.redisDB.GetStats(ctx); err != nil {
			h.logger.Error("Failed to get Redis stats", zap.Error(err))
		} else {
			redisStats = stats
		}

		services["redis"] = gin.H{
			"status": redisStatus,
			"stats":  redisStats,
		}
	} else {
		services["redis"] = gin.H{"status": "disabled"}
	}

	httpStatus := http.StatusOK
	if status["status"] == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, status)
}
