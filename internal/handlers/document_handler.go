package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"stock-ledger/internal/models"
	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DocumentHandler puntos de entrada de los flujos de documentos que mueven stock
type DocumentHandler struct {
	production services.ProductionService
	purchases  services.PurchaseService
	logger     *zap.Logger
}

// NewDocumentHandler crea una nueva instancia del handler
func NewDocumentHandler(production services.ProductionService, purchases services.PurchaseService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		production: production,
		purchases:  purchases,
		logger:     logger,
	}
}

// CompleteWorkOrder completa una orden de trabajo en curso
func (h *DocumentHandler) CompleteWorkOrder(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "complete_work_order"))

	id, err := parseID(c)
	if err != nil {
		respondBadRequest(c, "❌ ID de orden de trabajo inválido", err)
		return
	}

	var req models.CompleteWorkOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "❌ Error en el formato de datos", err)
		return
	}

	result, err := h.production.CompleteWorkOrder(c.Request.Context(), id, req.ProducedQuantity, req.ByproductQuantity)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Orden de trabajo completada",
		"data":    result,
	})
}

// ReceivePurchase recibe una compra y registra las entradas de sus líneas
func (h *DocumentHandler) ReceivePurchase(c *gin.Context) {
	logger := h.logger.With(zap.String("handler", "receive_purchase"))

	id, err := parseID(c)
	if err != nil {
		respondBadRequest(c, "❌ ID de compra inválido", err)
		return
	}

	result, err := h.purchases.ReceivePurchase(c.Request.Context(), id)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "✅ Compra recibida",
		"data":    result,
	})
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id inválido: %q", c.Param("id"))
	}
	return id, nil
}
