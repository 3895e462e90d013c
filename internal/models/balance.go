package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance representa la tabla stock_balances: la proyección actual de un material.
// Available y StockValue se derivan en cada lectura, nunca se guardan.
type Balance struct {
	MaterialID          string          `json:"material_id" db:"material_id"`
	OnHand              decimal.Decimal `json:"on_hand" db:"on_hand"`
	Reserved            decimal.Decimal `json:"reserved" db:"reserved"`
	WeightedAverageCost decimal.Decimal `json:"weighted_average_cost" db:"weighted_average_cost"`
	Version             int64           `json:"version" db:"version"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// NewBalance crea una proyección en cero para un material recién creado
func NewBalance(materialID string) *Balance {
	return &Balance{
		MaterialID:          materialID,
		OnHand:              decimal.Zero,
		Reserved:            decimal.Zero,
		WeightedAverageCost: decimal.Zero,
	}
}

// Available = on_hand - reserved
func (b *Balance) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved)
}

// StockValue = on_hand * costo promedio
func (b *Balance) StockValue() decimal.Decimal {
	return b.OnHand.Mul(b.WeightedAverageCost)
}

// Clone devuelve una copia independiente
func (b *Balance) Clone() *Balance {
	c := *b
	return &c
}

// BalanceView es la forma expuesta por la API, con los campos derivados
type BalanceView struct {
	MaterialID          string          `json:"material_id"`
	OnHand              decimal.Decimal `json:"on_hand"`
	Reserved            decimal.Decimal `json:"reserved"`
	Available           decimal.Decimal `json:"available"`
	WeightedAverageCost decimal.Decimal `json:"weighted_average_cost"`
	StockValue          decimal.Decimal `json:"stock_value"`
	Version             int64           `json:"version"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// View arma la vista con los derivados recalculados
func (b *Balance) View() BalanceView {
	return BalanceView{
		MaterialID:          b.MaterialID,
		OnHand:              b.OnHand,
		Reserved:            b.Reserved,
		Available:           b.Available(),
		WeightedAverageCost: b.WeightedAverageCost,
		StockValue:          b.StockValue(),
		Version:             b.Version,
		UpdatedAt:           b.UpdatedAt,
	}
}
