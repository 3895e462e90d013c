package handlers

import (
	"context"
	"net/http"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockHandler maneja las peticiones HTTP del ledger de stock
type StockHandler struct {
	ledger         services.LedgerService
	reservations   services.ReservationService
	historyDefault int
	validator      *validator.Validate
	logger         *zap.Logger
}

// NewStockHandler crea una nueva instancia del handler
func NewStockHandler(ledger services.LedgerService, reservations services.ReservationService, historyDefault int, logger *zap.Logger) *StockHandler {
	if historyDefault <= 0 {
		historyDefault = 50
	}
	return &StockHandler{
		ledger:         ledger,
		reservations:   reservations,
		historyDefault: historyDefault,
		validator:      validator.New(),
		logger:         logger,
	}
}

// RecordMovement registra un movimiento manual (entrada, salida, ajuste o chute)
func (h *StockHandler) RecordMovement(c *gin.Context) {
	start := time.Now()
	logger := h.logger.With(zap.String("handler", "record_movement"))

	var req models.RecordMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Info("Error binding JSON", zap.Error(err))
		respondBadRequest(c, "❌ Error en el formato de datos", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Info("Validation error", zap.Error(err))
		respondBadRequest(c, "❌ Datos de entrada inválidos", err)
		return
	}

	kind, err := models.ParseMovementKind(req.Kind)
	if err != nil {
		respondBadRequest(c, "❌ Tipo de movimiento inválido", err)
		return
	}

	mv, err := h.ledger.Record(c.Request.Context(), services.RecordRequest{
		MaterialID:      req.MaterialID,
		Kind:            kind,
		Quantity:        req.Quantity,
		UnitCost:        req.UnitCost,
		SourceReference: req.SourceReference,
		Comment:         req.Comment,
	})
	if err != nil {
		respondError(c, logger, err)
		return
	}

	logger.Info("✅ Movimiento registrado",
		zap.Int64("movement_id", mv.ID),
		zap.String("material_id", mv.MaterialID),
		zap.Duration("latency", time.Since(start)))

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "✅ Movimiento registrado correctamente",
		"data":    mv,
	})
}

// GetBalance obtiene la proyección de un material
func (h *StockHandler) GetBalance(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "get_balance"))
	materialID := c.Param("material")

	b, err := h.ledger.Balance(c.Request.Context(), materialID)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Stock obtenido correctamente",
		"data":    b.View(),
	})
}

// GetMovements historial paginado del material, más reciente primero
func (h *StockHandler) GetMovements(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "get_movements"))
	materialID := c.Param("material")

	var q models.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, "❌ Parámetros de paginación inválidos", err)
		return
	}
	if err := h.validator.Struct(q); err != nil {
		respondBadRequest(c, "❌ Parámetros de paginación inválidos", err)
		return
	}
	if q.Limit == 0 {
		q.Limit = h.historyDefault
	}

	movements, err := h.ledger.History(c.Request.Context(), materialID, q.Limit, q.Offset)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	logger.Debug("Movimientos obtenidos",
		zap.String("material_id", materialID),
		zap.Int("count", len(movements)))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Movimientos obtenidos correctamente",
		"data": gin.H{
			"material_id": materialID,
			"movements":   movements,
			"count":       len(movements),
			"limit":       q.Limit,
			"offset":      q.Offset,
		},
	})
}

// Rebuild recalcula la proyección desde el historial
func (h *StockHandler) Rebuild(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "rebuild"))

	b, err := h.ledger.Rebuild(c.Request.Context(), c.Param("material"))
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Proyección reconstruida",
		"data":    b.View(),
	})
}

// CheckConsistency compara proyección y replay de un material
func (h *StockHandler) CheckConsistency(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "check_consistency"))

	report, err := h.ledger.CheckConsistency(c.Request.Context(), c.Param("material"))
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Chequeo de consistencia completo",
		"data":    report,
	})
}

// CheckAll chequeo de consistencia de todos los materiales
func (h *StockHandler) CheckAll(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "check_all"))

	reports, err := h.ledger.CheckAll(c.Request.Context())
	if err != nil {
		respondError(c, logger, err)
		return
	}

	inconsistent := make([]string, 0)
	for _, r := range reports {
		if !r.Consistent {
			inconsistent = append(inconsistent, r.MaterialID)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Chequeo de consistencia completo",
		"data": gin.H{
			"materials":    len(reports),
			"inconsistent": inconsistent,
			"reports":      reports,
		},
	})
}

// Reserve aumenta la cantidad reservada
func (h *StockHandler) Reserve(c *gin.Context) {
	h.reservation(c, "reserve", h.reservations.Reserve)
}

// Release libera cantidad reservada
func (h *StockHandler) Release(c *gin.Context) {
	h.reservation(c, "release", h.reservations.Release)
}

func (h *StockHandler) reservation(c *gin.Context, op string, fn func(ctx context.Context, materialID string, qty decimal.Decimal) (*models.Balance, error)) {
	logger := h.logger.With(zap.String("handler", op))

	var req models.ReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "❌ Error en el formato de datos", err)
		return
	}

	b, err := fn(c.Request.Context(), c.Param("material"), req.Quantity)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Reserva actualizada",
		"data":    b.View(),
	})
}
