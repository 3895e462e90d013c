package services

import (
	"context"
	"fmt"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductionService adaptador de órdenes de trabajo hacia el ledger
type ProductionService interface {
	CompleteWorkOrder(ctx context.Context, workOrderID int64, produced, byproduct decimal.Decimal) (*models.CompletionResult, error)
}

type productionService struct {
	ledger *Ledger
	now    func() time.Time
	logger *zap.Logger
}

// NewProductionService crea el adaptador de producción
func NewProductionService(ledger *Ledger, logger *zap.Logger) ProductionService {
	return &productionService{ledger: ledger, now: time.Now, logger: logger}
}

// CompleteWorkOrder consume la materia prima, devuelve el chute a costo cero y
// marca la orden como completada. Todo en una sola transacción.
func (s *productionService) CompleteWorkOrder(ctx context.Context, workOrderID int64, produced, byproduct decimal.Decimal) (*models.CompletionResult, error) {
	logger := s.logger.With(
		zap.String("operation", "complete_work_order"),
		zap.Int64("work_order_id", workOrderID),
		zap.String("produced", produced.String()),
		zap.String("byproduct", byproduct.String()),
	)

	if produced.IsNegative() {
		return nil, fmt.Errorf("%w: cantidad producida negativa", ErrInvalidQuantity)
	}
	if byproduct.IsNegative() {
		return nil, fmt.Errorf("%w: cantidad de chute negativa", ErrInvalidQuantity)
	}

	var result *models.CompletionResult
	err := s.ledger.withRetry(ctx, logger, func() error {
		result = nil
		return s.ledger.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			r, err := s.completeInTx(ctx, tx, workOrderID, produced, byproduct)
			result = r
			return err
		})
	})
	if err != nil {
		logger.Error("❌ Error completando orden de trabajo", zap.Error(err))
		return nil, err
	}

	if result.Consumption != nil {
		s.ledger.committed(ctx, result.Consumption)
	}
	if result.Byproduct != nil {
		s.ledger.committed(ctx, result.Byproduct)
	}
	s.ledger.counters.workOrder()

	logger.Info("✅ Orden de trabajo completada",
		zap.String("number", result.WorkOrder.Number),
		zap.String("material_id", result.WorkOrder.MaterialID),
		zap.String("on_hand", result.Balance.OnHand.String()),
		zap.String("average_cost", result.Balance.WeightedAverageCost.String()))
	return result, nil
}

func (s *productionService) completeInTx(ctx context.Context, tx repository.LedgerTx, workOrderID int64, produced, byproduct decimal.Decimal) (*models.CompletionResult, error) {
	wo, err := tx.LockWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, fmt.Errorf("%w: orden de trabajo %d", ErrUnknownDocument, workOrderID)
	}
	if wo.Status != models.WorkOrderInProgress {
		return nil, fmt.Errorf("%w: orden %s en estado %s", ErrInvalidState, wo.Number, wo.Status)
	}

	ref := wo.Number
	result := &models.CompletionResult{}
	var balance *models.Balance

	if produced.IsPositive() {
		mv, b, err := s.ledger.recordInTx(ctx, tx, RecordRequest{
			MaterialID:      wo.MaterialID,
			Kind:            models.KindExit,
			Quantity:        produced,
			SourceReference: &ref,
		})
		if err != nil {
			return nil, err
		}
		result.Consumption = mv
		balance = b
	}

	if byproduct.IsPositive() {
		zero := decimal.Zero
		comment := "chute"
		mv, b, err := s.ledger.recordInTx(ctx, tx, RecordRequest{
			MaterialID:      wo.MaterialID,
			Kind:            models.KindByproductReturn,
			Quantity:        byproduct,
			UnitCost:        &zero,
			SourceReference: &ref,
			Comment:         &comment,
		})
		if err != nil {
			return nil, err
		}
		result.Byproduct = mv
		balance = b
	}

	if balance == nil {
		// sin movimientos: la orden se cierra igual, con la proyección vigente
		if balance, err = tx.LockBalance(ctx, wo.MaterialID); err != nil {
			return nil, err
		}
		if balance == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMaterial, wo.MaterialID)
		}
	}

	now := s.now()
	wo.Status = models.WorkOrderCompleted
	wo.ProducedQuantity = produced
	wo.ByproductQuantity = byproduct
	wo.CompletedAt = &now
	if err := tx.SaveWorkOrder(ctx, wo); err != nil {
		return nil, err
	}

	result.WorkOrder = wo
	result.Balance = balance.View()
	return result, nil
}
