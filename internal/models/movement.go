package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind es el tipo cerrado de movimiento de stock
type MovementKind int

const (
	KindEntry MovementKind = iota + 1
	KindExit
	KindAdjustment
	KindByproductReturn
)

// String devuelve el nombre persistido del tipo de movimiento
func (k MovementKind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindExit:
		return "exit"
	case KindAdjustment:
		return "adjustment"
	case KindByproductReturn:
		return "byproduct_return"
	default:
		return "unknown"
	}
}

// Valid indica si el tipo pertenece al conjunto cerrado
func (k MovementKind) Valid() bool {
	switch k {
	case KindEntry, KindExit, KindAdjustment, KindByproductReturn:
		return true
	default:
		return false
	}
}

// IsInflow indica si el movimiento trae costo y recalcula el promedio ponderado
func (k MovementKind) IsInflow() bool {
	return k == KindEntry || k == KindByproductReturn
}

// ParseMovementKind convierte el nombre persistido en MovementKind
func ParseMovementKind(s string) (MovementKind, error) {
	switch s {
	case "entry":
		return KindEntry, nil
	case "exit":
		return KindExit, nil
	case "adjustment":
		return KindAdjustment, nil
	case "byproduct_return":
		return KindByproductReturn, nil
	default:
		return 0, fmt.Errorf("tipo de movimiento desconocido: %q", s)
	}
}

func (k MovementKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *MovementKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMovementKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Movement representa la tabla stock_movements. Es un hecho inmutable:
// una vez insertado no se actualiza ni se borra.
type Movement struct {
	ID               int64           `json:"id" db:"id"`
	MaterialID       string          `json:"material_id" db:"material_id"`
	Kind             MovementKind    `json:"kind" db:"kind"`
	Quantity         decimal.Decimal `json:"quantity" db:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	MovementValue    decimal.Decimal `json:"movement_value" db:"movement_value"`
	SourceReference  *string         `json:"source_reference,omitempty" db:"source_reference"`
	Comment          *string         `json:"comment,omitempty" db:"comment"`
	OnHandBefore     decimal.Decimal `json:"on_hand_before" db:"on_hand_before"`
	OnHandAfter      decimal.Decimal `json:"on_hand_after" db:"on_hand_after"`
	AverageCostAfter decimal.Decimal `json:"average_cost_after" db:"average_cost_after"`
	RecordedAt       time.Time       `json:"recorded_at" db:"recorded_at"`
}
