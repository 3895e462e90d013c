package services

import (
	"errors"
	"fmt"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"
)

// Errores del ledger. Los de validación se devuelven antes de cualquier cambio.
var (
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidCost         = errors.New("invalid unit cost")
	ErrInvalidKind         = errors.New("invalid movement kind")
	ErrInvalidMaterial     = errors.New("invalid material")
	ErrUnknownMaterial     = errors.New("unknown material")
	ErrInvalidState        = errors.New("invalid document state")
	ErrPartialReceipt      = errors.New("partial purchase receipt")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrMaterialExists      = errors.New("material already exists")
	ErrInvalidPage         = errors.New("invalid page")
	ErrUnknownDocument     = errors.New("unknown document")
)

// PartialReceiptError se devuelve cuando una recepción de compra dejó algunas
// líneas registradas y otra falló. No hay reversión automática.
// FailedLineID es 0 cuando todas las líneas quedaron registradas y lo que falló
// fue el cambio de estado de la compra.
type PartialReceiptError struct {
	PurchaseID   int64
	Succeeded    []models.ReceiptLineResult
	FailedLineID int64
	Err          error
}

func (e *PartialReceiptError) Error() string {
	if e.FailedLineID == 0 {
		return fmt.Sprintf("purchase %d: %d lines recorded, status transition failed: %v",
			e.PurchaseID, len(e.Succeeded), e.Err)
	}
	return fmt.Sprintf("purchase %d: line %d failed after %d lines recorded: %v",
		e.PurchaseID, e.FailedLineID, len(e.Succeeded), e.Err)
}

func (e *PartialReceiptError) Unwrap() error { return e.Err }

// Is permite errors.Is(err, ErrPartialReceipt)
func (e *PartialReceiptError) Is(target error) bool { return target == ErrPartialReceipt }

// isConflict indica si el error del repositorio admite reintentar la operación completa
func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}
