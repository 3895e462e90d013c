package services

import (
	"fmt"

	"stock-ledger/internal/models"

	"github.com/shopspring/decimal"
)

// CostScale decimales del costo promedio ponderado
const CostScale = 6

// RecordRequest pedido de registro de un movimiento.
// Quantity es una magnitud positiva, salvo en Adjustment donde llega con signo.
// Exit siempre se valoriza al costo promedio vigente: su UnitCost se ignora.
// UnitCost nil en Adjustment = costo promedio vigente.
type RecordRequest struct {
	MaterialID      string
	Kind            models.MovementKind
	Quantity        decimal.Decimal
	UnitCost        *decimal.Decimal
	SourceReference *string
	Comment         *string
}

// validateRecord rechaza el pedido sin mirar el estado del material
func validateRecord(req RecordRequest) error {
	if req.MaterialID == "" {
		return fmt.Errorf("%w: material_id vacío", ErrUnknownMaterial)
	}

	switch req.Kind {
	case models.KindEntry, models.KindByproductReturn:
		if !req.Quantity.IsPositive() {
			return fmt.Errorf("%w: %s requiere cantidad positiva, recibido %s", ErrInvalidQuantity, req.Kind, req.Quantity)
		}
		if req.UnitCost == nil {
			return fmt.Errorf("%w: %s requiere costo unitario", ErrInvalidCost, req.Kind)
		}
	case models.KindExit:
		if !req.Quantity.IsPositive() {
			return fmt.Errorf("%w: exit requiere cantidad positiva, recibido %s", ErrInvalidQuantity, req.Quantity)
		}
	case models.KindAdjustment:
		if req.Quantity.IsZero() {
			return fmt.Errorf("%w: el ajuste no puede ser cero", ErrInvalidQuantity)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidKind, int(req.Kind))
	}

	if req.UnitCost != nil && req.UnitCost.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInvalidCost, req.UnitCost)
	}
	return nil
}

// signedQuantity aplica el signo según el tipo
func signedQuantity(kind models.MovementKind, qty decimal.Decimal) decimal.Decimal {
	switch kind {
	case models.KindExit:
		return qty.Abs().Neg()
	case models.KindAdjustment:
		return qty
	default:
		return qty.Abs()
	}
}

// weightedAverage promedio ponderado después de una entrada q a costo c
func weightedAverage(q0, c0, q, c decimal.Decimal) decimal.Decimal {
	if !q0.IsPositive() {
		return c.Round(CostScale)
	}
	total := q0.Add(q)
	return q0.Mul(c0).Add(q.Mul(c)).Div(total).Round(CostScale)
}

// applyMovement aplica un movimiento (cantidad con signo) sobre la proyección.
// Solo los ingresos con costo mueven el promedio.
func applyMovement(b *models.Balance, kind models.MovementKind, qty, unitCost decimal.Decimal) {
	if kind.IsInflow() {
		b.WeightedAverageCost = weightedAverage(b.OnHand, b.WeightedAverageCost, qty, unitCost)
	}
	b.OnHand = b.OnHand.Add(qty)
}

// buildMovement valoriza el pedido contra la proyección bloqueada y la actualiza
func buildMovement(b *models.Balance, req RecordRequest) *models.Movement {
	qty := signedQuantity(req.Kind, req.Quantity)

	unitCost := b.WeightedAverageCost
	if req.UnitCost != nil && req.Kind != models.KindExit {
		unitCost = *req.UnitCost
	}

	before := b.OnHand
	applyMovement(b, req.Kind, qty, unitCost)

	return &models.Movement{
		MaterialID:       req.MaterialID,
		Kind:             req.Kind,
		Quantity:         qty,
		UnitCost:         unitCost,
		MovementValue:    qty.Mul(unitCost),
		SourceReference:  req.SourceReference,
		Comment:          req.Comment,
		OnHandBefore:     before,
		OnHandAfter:      b.OnHand,
		AverageCostAfter: b.WeightedAverageCost,
	}
}

// replay recalcula la proyección desde cero con el historial en orden de aplicación.
// Reserved no sale del ledger y se conserva.
func replay(materialID string, reserved decimal.Decimal, movements []*models.Movement) *models.Balance {
	b := models.NewBalance(materialID)
	b.Reserved = reserved
	for _, m := range movements {
		applyMovement(b, m.Kind, m.Quantity, m.UnitCost)
	}
	return b
}
