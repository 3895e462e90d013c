package services

import (
	"testing"

	"stock-ledger/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateRecord(t *testing.T) {
	tests := []struct {
		name    string
		req     RecordRequest
		wantErr error
	}{
		{"entry ok", entry("M", "1", "0"), nil},
		{"entry sin costo", RecordRequest{MaterialID: "M", Kind: models.KindEntry, Quantity: dec("1")}, ErrInvalidCost},
		{"entry cero", entry("M", "0", "1"), ErrInvalidQuantity},
		{"entry negativa", entry("M", "-1", "1"), ErrInvalidQuantity},
		{"costo negativo", entry("M", "1", "-0.01"), ErrInvalidCost},
		{"exit sin costo", exit("M", "3"), nil},
		{"exit negativa", exit("M", "-3"), ErrInvalidQuantity},
		{"ajuste negativo", adjustment("M", "-2"), nil},
		{"ajuste cero", adjustment("M", "0"), ErrInvalidQuantity},
		{"tipo inválido", RecordRequest{MaterialID: "M", Kind: models.MovementKind(99), Quantity: dec("1")}, ErrInvalidKind},
		{"sin material", entry("", "1", "1"), ErrUnknownMaterial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRecord(tt.req)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWeightedAverage(t *testing.T) {
	tests := []struct {
		name         string
		q0, c0, q, c string
		want         string
	}{
		{"stock vacío toma el costo entrante", "0", "0", "10", "2", "2"},
		{"promedio simple", "10", "2", "10", "4", "3"},
		{"stock negativo reinicia", "-4", "7", "10", "5", "5"},
		{"chute a costo cero diluye", "5", "3", "1.5", "0", "2.307692"},
		{"redondeo a 6 decimales", "3", "1", "3", "2", "1.5"},
		{"periódico", "1", "1", "2", "0", "0.333333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weightedAverage(dec(tt.q0), dec(tt.c0), dec(tt.q), dec(tt.c))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestSignedQuantity(t *testing.T) {
	assert.True(t, signedQuantity(models.KindEntry, dec("4")).Equal(dec("4")))
	assert.True(t, signedQuantity(models.KindByproductReturn, dec("4")).Equal(dec("4")))
	assert.True(t, signedQuantity(models.KindExit, dec("4")).Equal(dec("-4")))
	assert.True(t, signedQuantity(models.KindAdjustment, dec("-4")).Equal(dec("-4")))
	assert.True(t, signedQuantity(models.KindAdjustment, dec("4")).Equal(dec("4")))
}

func TestBuildMovementValuesExitAtAverage(t *testing.T) {
	b := models.NewBalance("M")
	b.OnHand = dec("20")
	b.WeightedAverageCost = dec("3")

	mv := buildMovement(b, exit("M", "5"))

	assert.True(t, mv.Quantity.Equal(dec("-5")))
	assert.True(t, mv.UnitCost.Equal(dec("3")))
	assert.True(t, mv.MovementValue.Equal(dec("-15")))
	assert.True(t, mv.OnHandBefore.Equal(dec("20")))
	assert.True(t, mv.OnHandAfter.Equal(dec("15")))
	assert.True(t, b.OnHand.Equal(dec("15")))
	assert.True(t, b.WeightedAverageCost.Equal(dec("3")))
}

func TestBuildMovementCallerCost(t *testing.T) {
	tests := []struct {
		name      string
		req       RecordRequest
		wantCost  string
		wantValue string
	}{
		{"exit ignora el costo informado", RecordRequest{MaterialID: "M", Kind: models.KindExit, Quantity: dec("5"), UnitCost: decPtr("100")}, "3", "-15"},
		{"exit sin costo", exit("M", "5"), "3", "-15"},
		{"ajuste con costo informado", RecordRequest{MaterialID: "M", Kind: models.KindAdjustment, Quantity: dec("-2"), UnitCost: decPtr("4")}, "4", "-8"},
		{"ajuste sin costo", adjustment("M", "-2"), "3", "-6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := models.NewBalance("M")
			b.OnHand = dec("10")
			b.WeightedAverageCost = dec("3")

			mv := buildMovement(b, tt.req)

			assert.True(t, mv.UnitCost.Equal(dec(tt.wantCost)), "unit_cost %s", mv.UnitCost)
			assert.True(t, mv.MovementValue.Equal(dec(tt.wantValue)), "movement_value %s", mv.MovementValue)
			assert.True(t, b.WeightedAverageCost.Equal(dec("3")))
		})
	}
}
