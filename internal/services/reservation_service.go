package services

import (
	"context"
	"fmt"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReservationService puerto del colaborador de reservas: solo mueve Reserved.
// Si una reserva procede contra Available lo decide el colaborador, no el ledger.
type ReservationService interface {
	Reserve(ctx context.Context, materialID string, qty decimal.Decimal) (*models.Balance, error)
	Release(ctx context.Context, materialID string, qty decimal.Decimal) (*models.Balance, error)
}

type reservationService struct {
	ledger *Ledger
	logger *zap.Logger
}

// NewReservationService crea el servicio sobre el mismo repositorio del ledger
func NewReservationService(ledger *Ledger, logger *zap.Logger) ReservationService {
	return &reservationService{ledger: ledger, logger: logger}
}

func (s *reservationService) Reserve(ctx context.Context, materialID string, qty decimal.Decimal) (*models.Balance, error) {
	return s.adjust(ctx, "reserve", materialID, qty)
}

func (s *reservationService) Release(ctx context.Context, materialID string, qty decimal.Decimal) (*models.Balance, error) {
	return s.adjust(ctx, "release", materialID, qty.Neg())
}

// adjust suma delta a Reserved bajo el lock de la proyección
func (s *reservationService) adjust(ctx context.Context, op, materialID string, delta decimal.Decimal) (*models.Balance, error) {
	logger := s.logger.With(
		zap.String("operation", op),
		zap.String("material_id", materialID),
		zap.String("quantity", delta.Abs().String()),
	)

	if delta.IsZero() || (op == "reserve") != delta.IsPositive() {
		return nil, fmt.Errorf("%w: la cantidad debe ser positiva", ErrInvalidQuantity)
	}

	var updated *models.Balance
	err := s.ledger.withRetry(ctx, logger, func() error {
		return s.ledger.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			b, err := tx.LockBalance(ctx, materialID)
			if err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("%w: %s", ErrUnknownMaterial, materialID)
			}

			reserved := b.Reserved.Add(delta)
			if reserved.IsNegative() {
				return fmt.Errorf("%w: se liberaría más de lo reservado (%s)", ErrInvalidQuantity, b.Reserved)
			}
			b.Reserved = reserved
			if err := tx.SaveBalance(ctx, b); err != nil {
				return err
			}
			updated = b
			return nil
		})
	})
	if err != nil {
		logger.Debug("Reserva rechazada", zap.Error(err))
		return nil, err
	}

	logger.Info("✅ Reserva actualizada",
		zap.String("reserved", updated.Reserved.String()),
		zap.String("available", updated.Available().String()))
	return updated, nil
}
