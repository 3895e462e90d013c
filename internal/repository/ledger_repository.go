package repository

import (
	"context"
	"errors"

	"stock-ledger/internal/models"
)

// ErrConflict indica que la transacción perdió contra otra (serialización,
// deadlock o timeout de lock). La operación completa puede reintentarse.
var ErrConflict = errors.New("transaction conflict")

// ErrDuplicate indica que la clave ya existe
var ErrDuplicate = errors.New("duplicate key")

// LedgerRepository define el almacenamiento del ledger de stock: movimientos
// (append-only), proyecciones por material y los documentos que emiten movimientos.
type LedgerRepository interface {
	// WithinTx ejecuta fn como una unidad de trabajo: o se aplica todo o nada.
	// Si ctx se cancela antes del commit no queda ningún cambio visible.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	// Lecturas fuera de transacción (snapshot de lo ya confirmado)
	GetBalance(ctx context.Context, materialID string) (*models.Balance, error)
	ListMovements(ctx context.Context, materialID string, limit, offset int) ([]*models.Movement, error)
	ListMaterialIDs(ctx context.Context) ([]string, error)
	GetWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error)
	GetPurchase(ctx context.Context, id int64) (*models.Purchase, error)

	// Alta de documentos (la numeración y el flujo pertenecen a otros servicios)
	CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	CreatePurchase(ctx context.Context, p *models.Purchase) error

	// LockDocument toma un lock exclusivo sobre key que abarca varias
	// transacciones y es visible para todas las instancias que comparten el store.
	// Bloquea hasta obtenerlo o hasta que ctx termine; unlock libera.
	LockDocument(ctx context.Context, key string) (unlock func(), err error)
}

// LedgerTx operaciones disponibles dentro de una unidad de trabajo.
// Los métodos Lock* toman el lock de la fila hasta el fin de la transacción.
type LedgerTx interface {
	CreateMaterial(ctx context.Context, m *models.Material, b *models.Balance) error
	LockBalance(ctx context.Context, materialID string) (*models.Balance, error)
	SaveBalance(ctx context.Context, b *models.Balance) error
	InsertMovement(ctx context.Context, m *models.Movement) error
	// MovementsAscending devuelve el historial completo en orden de aplicación (id ascendente)
	MovementsAscending(ctx context.Context, materialID string) ([]*models.Movement, error)

	LockWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error)
	SaveWorkOrder(ctx context.Context, wo *models.WorkOrder) error
	LockPurchase(ctx context.Context, id int64) (*models.Purchase, error)
	SavePurchaseStatus(ctx context.Context, p *models.Purchase) error
}

// CatalogRepository lookups del colaborador de catálogo
type CatalogRepository interface {
	GetMaterial(ctx context.Context, id string) (*models.Material, error)
}
