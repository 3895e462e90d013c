package handlers

import (
	"net/http"
	"time"

	"stock-ledger/internal/cache"
	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"
	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// MaterialHandler alta de materiales y acceso al catálogo cacheado
type MaterialHandler struct {
	ledger        services.LedgerService
	materialCache *cache.MaterialCache
	lister        repository.MaterialLister
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewMaterialHandler crea una nueva instancia del handler
func NewMaterialHandler(ledger services.LedgerService, materialCache *cache.MaterialCache, lister repository.MaterialLister, logger *zap.Logger) *MaterialHandler {
	return &MaterialHandler{
		ledger:        ledger,
		materialCache: materialCache,
		lister:        lister,
		validator:     validator.New(),
		logger:        logger,
	}
}

// RegisterMaterial da de alta un material con su proyección en cero
func (h *MaterialHandler) RegisterMaterial(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "register_material"))

	var req models.RegisterMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "❌ Error en el formato de datos", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondBadRequest(c, "❌ Datos de entrada inválidos", err)
		return
	}

	m := &models.Material{ID: req.ID, Name: req.Name, Unit: req.Unit}
	b, err := h.ledger.RegisterMaterial(c.Request.Context(), m)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "✅ Material registrado correctamente",
		"data": gin.H{
			"material": m,
			"balance":  b.View(),
		},
	})
}

// GetMaterial busca un material pasando por el caché
func (h *MaterialHandler) GetMaterial(c *gin.Context) {
	start := time.Now()
	logger := h.logger.With(zap.String("handler", "get_material"))
	id := c.Param("id")

	m, err := h.materialCache.GetMaterial(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if m == nil {
		respondError(c, logger, services.ErrUnknownMaterial)
		return
	}

	logger.Debug("Material obtenido",
		zap.String("material_id", id),
		zap.Duration("latency", time.Since(start)))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Material encontrado",
		"data":    m,
	})
}

// PreloadMaterials pre-carga en caché los materiales con actividad reciente
func (h *MaterialHandler) PreloadMaterials(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "preload_materials"))

	var req struct {
		Limit int `json:"limit" validate:"gte=0,lte=10000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "❌ Error en el formato de datos", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondBadRequest(c, "❌ Datos de entrada inválidos", err)
		return
	}
	if req.Limit == 0 {
		req.Limit = 100
	}

	n, err := h.materialCache.Preload(c.Request.Context(), h.lister, req.Limit)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	logger.Info("Materiales pre-cargados", zap.Int("count", n))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Materiales pre-cargados correctamente",
		"data": gin.H{
			"materiales_procesados": n,
			"cache_stats":           h.materialCache.GetStats(),
			"timestamp":             time.Now().Format(time.RFC3339),
		},
	})
}

// InvalidateMaterial quita un material de ambos niveles del caché
func (h *MaterialHandler) InvalidateMaterial(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "invalidate_material"))
	id := c.Param("id")

	if err := h.materialCache.InvalidateMaterial(c.Request.Context(), id); err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Material invalidado en caché",
		"data":    gin.H{"material_id": id},
	})
}

// GetCacheStats estadísticas del caché de materiales
func (h *MaterialHandler) GetCacheStats(c *gin.Context) {
	stats := h.materialCache.GetStats()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Estadísticas del caché",
		"data": gin.H{
			"hits":           stats.Hits,
			"misses":         stats.Misses,
			"total_requests": stats.TotalRequests,
			"total_keys":     stats.TotalKeys,
			"hit_rate":       stats.HitRate(),
		},
	})
}
