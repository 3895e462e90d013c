package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkOrderStatus estados de una orden de trabajo
type WorkOrderStatus string

const (
	WorkOrderPlanned    WorkOrderStatus = "planned"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderCompleted  WorkOrderStatus = "completed"
	WorkOrderCancelled  WorkOrderStatus = "cancelled"
)

// WorkOrder representa la tabla work_orders
type WorkOrder struct {
	ID                int64           `json:"id" db:"id"`
	Number            string          `json:"number" db:"number"`
	MaterialID        string          `json:"material_id" db:"material_id"`
	Status            WorkOrderStatus `json:"status" db:"status"`
	PlannedQuantity   decimal.Decimal `json:"planned_quantity" db:"planned_quantity"`
	ProducedQuantity  decimal.Decimal `json:"produced_quantity" db:"produced_quantity"`
	ByproductQuantity decimal.Decimal `json:"byproduct_quantity" db:"byproduct_quantity"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// PurchaseStatus estados de una compra
type PurchaseStatus string

const (
	PurchaseDraft     PurchaseStatus = "draft"
	PurchaseOrdered   PurchaseStatus = "ordered"
	PurchaseDelivered PurchaseStatus = "delivered"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// Purchase representa la tabla purchases con sus líneas
type Purchase struct {
	ID         int64          `json:"id" db:"id"`
	Number     string         `json:"number" db:"number"`
	Status     PurchaseStatus `json:"status" db:"status"`
	ReceivedAt *time.Time     `json:"received_at,omitempty" db:"received_at"`
	Lines      []PurchaseLine `json:"lines"`
}

// PurchaseLine representa la tabla purchase_lines.
// MaterialID nil indica un ítem sin stock (por ejemplo un servicio).
type PurchaseLine struct {
	ID          int64           `json:"id" db:"id"`
	PurchaseID  int64           `json:"purchase_id" db:"purchase_id"`
	MaterialID  *string         `json:"material_id,omitempty" db:"material_id"`
	Description string          `json:"description" db:"description"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Position    int             `json:"position" db:"position"`
}
