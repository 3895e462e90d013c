package models

import (
	"github.com/shopspring/decimal"
)

// ===== REQUEST DTOs =====

// RegisterMaterialRequest DTO para dar de alta un material y su proyección en cero
type RegisterMaterialRequest struct {
	ID   string `json:"id" validate:"required,max=64"`
	Name string `json:"name" validate:"required"`
	Unit string `json:"unit" validate:"required"`
}

// RecordMovementRequest DTO para registrar un movimiento manual.
// Quantity es una magnitud positiva salvo para adjustment, que llega con signo.
type RecordMovementRequest struct {
	MaterialID      string           `json:"material_id" validate:"required"`
	Kind            string           `json:"kind" validate:"required,oneof=entry exit adjustment byproduct_return"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	SourceReference *string          `json:"source_reference" validate:"omitempty,max=120"`
	Comment         *string          `json:"comment" validate:"omitempty,max=500"`
}

// ReservationRequest DTO para reservar o liberar cantidad
type ReservationRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// CompleteWorkOrderRequest DTO para completar una orden de trabajo
type CompleteWorkOrderRequest struct {
	ProducedQuantity  decimal.Decimal `json:"produced_quantity"`
	ByproductQuantity decimal.Decimal `json:"byproduct_quantity"`
}

// HistoryQuery parámetros de paginación del historial
type HistoryQuery struct {
	Limit  int `form:"limit" validate:"gte=0"`
	Offset int `form:"offset" validate:"gte=0"`
}

// ===== RESPONSE DTOs =====

// ReceiptLineResult resultado de una línea de compra recibida
type ReceiptLineResult struct {
	LineID     int64     `json:"line_id"`
	MaterialID string    `json:"material_id,omitempty"`
	MovementID int64     `json:"movement_id,omitempty"`
	Skipped    bool      `json:"skipped"`
	Movement   *Movement `json:"-"`
}

// ReceiptResult resultado de la recepción de una compra
type ReceiptResult struct {
	PurchaseID int64               `json:"purchase_id"`
	Number     string              `json:"number"`
	Status     PurchaseStatus      `json:"status"`
	Lines      []ReceiptLineResult `json:"lines"`
}

// CompletionResult resultado de completar una orden de trabajo
type CompletionResult struct {
	WorkOrder   *WorkOrder  `json:"work_order"`
	Consumption *Movement   `json:"consumption,omitempty"`
	Byproduct   *Movement   `json:"byproduct,omitempty"`
	Balance     BalanceView `json:"balance"`
}

// ConsistencyReport compara la proyección guardada contra un replay del historial
type ConsistencyReport struct {
	MaterialID string      `json:"material_id"`
	Stored     BalanceView `json:"stored"`
	Replayed   BalanceView `json:"replayed"`
	Movements  int         `json:"movements"`
	Consistent bool        `json:"consistent"`
}
