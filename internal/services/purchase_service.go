package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"go.uber.org/zap"
)

// PurchaseService adaptador de recepción de compras hacia el ledger
type PurchaseService interface {
	ReceivePurchase(ctx context.Context, purchaseID int64) (*models.ReceiptResult, error)
}

type purchaseService struct {
	ledger *Ledger
	now    func() time.Time
	logger *zap.Logger
}

// NewPurchaseService crea el adaptador de compras
func NewPurchaseService(ledger *Ledger, logger *zap.Logger) PurchaseService {
	return &purchaseService{
		ledger: ledger,
		now:    time.Now,
		logger: logger,
	}
}

// ReceivePurchase registra una entrada por cada línea con material y pasa la
// compra a delivered. Cada línea es su propia transacción: si una falla, las
// anteriores quedan registradas y se devuelve *PartialReceiptError.
// El lock del documento se toma en el store, no en el proceso: dos instancias
// del servicio no pueden recorrer las líneas de la misma compra a la vez.
func (s *purchaseService) ReceivePurchase(ctx context.Context, purchaseID int64) (*models.ReceiptResult, error) {
	logger := s.logger.With(
		zap.String("operation", "receive_purchase"),
		zap.Int64("purchase_id", purchaseID),
	)

	unlock, err := s.ledger.repo.LockDocument(ctx, fmt.Sprintf("purchase:%d", purchaseID))
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: compra %d en recepción", ErrConcurrencyConflict, purchaseID)
		}
		return nil, err
	}
	defer unlock()

	// el estado se lee con el lock tomado: quien llegue segundo ve delivered
	p, err := s.ledger.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo compra: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: compra %d", ErrUnknownDocument, purchaseID)
	}
	if p.Status != models.PurchaseOrdered {
		return nil, fmt.Errorf("%w: compra %s en estado %s", ErrInvalidState, p.Number, p.Status)
	}

	lines := make([]models.PurchaseLine, len(p.Lines))
	copy(lines, p.Lines)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })

	number := p.Number
	results := make([]models.ReceiptLineResult, 0, len(lines))
	for _, line := range lines {
		if line.MaterialID == nil {
			results = append(results, models.ReceiptLineResult{LineID: line.ID, Skipped: true})
			continue
		}

		price := line.UnitPrice
		req := RecordRequest{
			MaterialID:      *line.MaterialID,
			Kind:            models.KindEntry,
			Quantity:        line.Quantity,
			UnitCost:        &price,
			SourceReference: &number,
		}
		if line.Description != "" {
			desc := line.Description
			req.Comment = &desc
		}

		mv, err := s.ledger.Record(ctx, req)
		if err != nil {
			s.ledger.counters.partialReceipt()
			logger.Error("❌ Línea de compra no registrada",
				zap.Int64("line_id", line.ID),
				zap.Int("lines_recorded", recordedLines(results)),
				zap.Error(err))
			return nil, &PartialReceiptError{
				PurchaseID:   purchaseID,
				Succeeded:    results,
				FailedLineID: line.ID,
				Err:          err,
			}
		}

		results = append(results, models.ReceiptLineResult{
			LineID:     line.ID,
			MaterialID: mv.MaterialID,
			MovementID: mv.ID,
			Movement:   mv,
		})
	}

	var delivered *models.Purchase
	err = s.ledger.withRetry(ctx, logger, func() error {
		return s.ledger.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			current, err := tx.LockPurchase(ctx, purchaseID)
			if err != nil {
				return err
			}
			if current == nil {
				return fmt.Errorf("%w: compra %d", ErrUnknownDocument, purchaseID)
			}
			if current.Status != models.PurchaseOrdered {
				return fmt.Errorf("%w: compra %s en estado %s", ErrInvalidState, current.Number, current.Status)
			}

			now := s.now()
			current.Status = models.PurchaseDelivered
			current.ReceivedAt = &now
			if err := tx.SavePurchaseStatus(ctx, current); err != nil {
				return err
			}
			delivered = current
			return nil
		})
	})
	if err != nil {
		if recordedLines(results) == 0 {
			return nil, err
		}
		s.ledger.counters.partialReceipt()
		logger.Error("❌ Líneas registradas pero la compra no cambió de estado", zap.Error(err))
		return nil, &PartialReceiptError{PurchaseID: purchaseID, Succeeded: results, Err: err}
	}

	s.ledger.counters.purchase()
	logger.Info("✅ Compra recibida",
		zap.String("number", delivered.Number),
		zap.Int("lines_recorded", recordedLines(results)),
		zap.Int("lines_skipped", len(results)-recordedLines(results)))

	return &models.ReceiptResult{
		PurchaseID: delivered.ID,
		Number:     delivered.Number,
		Status:     delivered.Status,
		Lines:      results,
	}, nil
}

func recordedLines(results []models.ReceiptLineResult) int {
	n := 0
	for _, r := range results {
		if !r.Skipped {
			n++
		}
	}
	return n
}
