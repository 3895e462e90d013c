package handlers

import (
	"context"
	"errors"
	"net/http"

	"stock-ledger/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// errorMapping respuesta HTTP de un error de servicio
type errorMapping struct {
	status    int
	code      string
	message   string
	retryable bool
}

// mapError traduce los errores del ledger a status HTTP. El orden importa:
// una recepción parcial también envuelve la causa de la línea fallida.
func mapError(err error) errorMapping {
	switch {
	case errors.Is(err, services.ErrPartialReceipt):
		return errorMapping{http.StatusUnprocessableEntity, "partial_receipt", "❌ Recepción parcial: contactar a soporte", false}
	case errors.Is(err, services.ErrConcurrencyConflict):
		return errorMapping{http.StatusConflict, "concurrency_conflict", "⚠️ Conflicto de concurrencia, reintentar", true}
	case errors.Is(err, services.ErrInvalidQuantity):
		return errorMapping{http.StatusBadRequest, "invalid_quantity", "❌ Cantidad inválida", false}
	case errors.Is(err, services.ErrInvalidCost):
		return errorMapping{http.StatusBadRequest, "invalid_cost", "❌ Costo unitario inválido", false}
	case errors.Is(err, services.ErrInvalidKind):
		return errorMapping{http.StatusBadRequest, "invalid_kind", "❌ Tipo de movimiento inválido", false}
	case errors.Is(err, services.ErrInvalidMaterial):
		return errorMapping{http.StatusBadRequest, "invalid_material", "❌ Material inválido", false}
	case errors.Is(err, services.ErrInvalidPage):
		return errorMapping{http.StatusBadRequest, "invalid_page", "❌ Paginación inválida", false}
	case errors.Is(err, services.ErrUnknownMaterial):
		return errorMapping{http.StatusNotFound, "unknown_material", "❌ Material no encontrado", false}
	case errors.Is(err, services.ErrUnknownDocument):
		return errorMapping{http.StatusNotFound, "unknown_document", "❌ Documento no encontrado", false}
	case errors.Is(err, services.ErrInvalidState):
		return errorMapping{http.StatusConflict, "invalid_state", "❌ El documento no está en el estado esperado", false}
	case errors.Is(err, services.ErrMaterialExists):
		return errorMapping{http.StatusConflict, "material_exists", "❌ El material ya existe", false}
	case errors.Is(err, context.DeadlineExceeded):
		return errorMapping{http.StatusGatewayTimeout, "timeout", "⚠️ Tiempo de espera agotado, reintentar", true}
	default:
		return errorMapping{http.StatusInternalServerError, "internal", "❌ Error interno", false}
	}
}

// respondError escribe la respuesta de error con el formato común
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	m := mapError(err)

	body := gin.H{
		"success":   false,
		"message":   m.message,
		"code":      m.code,
		"error":     err.Error(),
		"retryable": m.retryable,
	}

	var partial *services.PartialReceiptError
	if errors.As(err, &partial) {
		body["data"] = gin.H{
			"purchase_id":    partial.PurchaseID,
			"succeeded":      partial.Succeeded,
			"failed_line_id": partial.FailedLineID,
		}
	}

	if m.status >= http.StatusInternalServerError {
		logger.Error("❌ Error procesando request", zap.Int("status", m.status), zap.Error(err))
	} else {
		logger.Info("Request rechazado", zap.Int("status", m.status), zap.String("code", m.code), zap.Error(err))
	}

	c.JSON(m.status, body)
}

// respondBadRequest error de formato o validación del request
func respondBadRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success":   false,
		"message":   message,
		"code":      "bad_request",
		"error":     err.Error(),
		"retryable": false,
	})
}
