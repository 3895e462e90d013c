package services

import (
	"context"
	"errors"
	"testing"

	"stock-ledger/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// material en 13 @ 3, como queda después de entradas, salida y ajuste
func seedThirteenAtThree(t *testing.T, ledger *Ledger) {
	t.Helper()
	mustRecord(t, ledger, entry("M-1", "10", "2"))
	mustRecord(t, ledger, entry("M-1", "10", "4"))
	mustRecord(t, ledger, exit("M-1", "5"))
	mustRecord(t, ledger, adjustment("M-1", "-2"))
}

func createWorkOrder(t *testing.T, ledger *Ledger, number string, status models.WorkOrderStatus) *models.WorkOrder {
	t.Helper()
	wo := &models.WorkOrder{Number: number, MaterialID: "M-1", Status: status, PlannedQuantity: dec("8")}
	require.NoError(t, ledger.repo.CreateWorkOrder(context.Background(), wo))
	return wo
}

func TestCompleteWorkOrderByproductDilutesAverage(t *testing.T) {
	ledger, _ := newTestLedger(t, "M-1")
	seedThirteenAtThree(t, ledger)
	wo := createWorkOrder(t, ledger, "OT-1", models.WorkOrderInProgress)
	svc := NewProductionService(ledger, zaptest.NewLogger(t))
	ctx := context.Background()

	result, err := svc.CompleteWorkOrder(ctx, wo.ID, dec("8"), dec("1.5"))
	require.NoError(t, err)

	require.NotNil(t, result.Consumption)
	assert.Equal(t, models.KindExit, result.Consumption.Kind)
	assert.True(t, result.Consumption.Quantity.Equal(dec("-8")))
	assert.True(t, result.Consumption.UnitCost.Equal(dec("3")))

	require.NotNil(t, result.Byproduct)
	assert.Equal(t, models.KindByproductReturn, result.Byproduct.Kind)
	assert.True(t, result.Byproduct.UnitCost.IsZero())
	assert.Equal(t, "OT-1", *result.Byproduct.SourceReference)

	b, err := ledger.Balance(ctx, "M-1")
	require.NoError(t, err)
	assert.True(t, b.OnHand.Equal(dec("6.5")))
	assert.True(t, b.WeightedAverageCost.Equal(dec("2.307692")), "got %s", b.WeightedAverageCost)
	assert.True(t, result.Balance.OnHand.Equal(dec("6.5")))

	got, err := ledger.repo.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkOrderCompleted, got.Status)
	assert.True(t, got.ProducedQuantity.Equal(dec("8")))
	assert.True(t, got.ByproductQuantity.Equal(dec("1.5")))
	assert.NotNil(t, got.CompletedAt)

	report, err := ledger.CheckConsistency(ctx, "M-1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	// una orden ya completada no se puede volver a completar
	_, err = svc.CompleteWorkOrder(ctx, wo.ID, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteWorkOrderRollsBackOnFailure(t *testing.T) {
	ledger, repo := newTestLedger(t, "M-1")
	seedThirteenAtThree(t, ledger)
	wo := createWorkOrder(t, ledger, "OT-2", models.WorkOrderInProgress)
	svc := NewProductionService(ledger, zaptest.NewLogger(t))
	ctx := context.Background()

	// falla la inserción del chute, después de la salida
	repo.SetInsertHook(func(m *models.Movement) error {
		if m.Kind == models.KindByproductReturn {
			return errors.New("storage error")
		}
		return nil
	})

	_, err := svc.CompleteWorkOrder(ctx, wo.ID, dec("8"), dec("1.5"))
	require.Error(t, err)

	b, err := ledger.Balance(ctx, "M-1")
	require.NoError(t, err)
	assert.True(t, b.OnHand.Equal(dec("13")))
	assert.True(t, b.WeightedAverageCost.Equal(dec("3")))

	history, err := ledger.History(ctx, "M-1", 100, 0)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	got, err := ledger.repo.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkOrderInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCompleteWorkOrderPreconditions(t *testing.T) {
	ledger, _ := newTestLedger(t, "M-1")
	planned := createWorkOrder(t, ledger, "OT-3", models.WorkOrderPlanned)
	active := createWorkOrder(t, ledger, "OT-4", models.WorkOrderInProgress)
	svc := NewProductionService(ledger, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.CompleteWorkOrder(ctx, planned.ID, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.CompleteWorkOrder(ctx, active.ID, dec("-1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CompleteWorkOrder(ctx, active.ID, dec("1"), dec("-0.5"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CompleteWorkOrder(ctx, 9999, dec("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrUnknownDocument)

	// sin producción ni chute la orden se cierra sin movimientos
	result, err := svc.CompleteWorkOrder(ctx, active.ID, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Nil(t, result.Consumption)
	assert.Nil(t, result.Byproduct)
	assert.Equal(t, models.WorkOrderCompleted, result.WorkOrder.Status)

	history, err := ledger.History(ctx, "M-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, int64(1), ledger.Metrics().CompletedWorkOrders)
}
