package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stock-ledger/internal/feed"
	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"go.uber.org/zap"
)

// LedgerService define las operaciones del ledger de stock
type LedgerService interface {
	RegisterMaterial(ctx context.Context, m *models.Material) (*models.Balance, error)
	Record(ctx context.Context, req RecordRequest) (*models.Movement, error)

	// Consultas
	Balance(ctx context.Context, materialID string) (*models.Balance, error)
	History(ctx context.Context, materialID string, limit, offset int) ([]*models.Movement, error)

	// Mantenimiento de la proyección
	Rebuild(ctx context.Context, materialID string) (*models.Balance, error)
	CheckConsistency(ctx context.Context, materialID string) (*models.ConsistencyReport, error)
	CheckAll(ctx context.Context) ([]*models.ConsistencyReport, error)
}

// LedgerOptions parámetros del ledger
type LedgerOptions struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	HistoryMaxLimit int
}

// Ledger implementa LedgerService. Cada escritura corre dentro de una
// transacción que toma el lock de la proyección del material.
type Ledger struct {
	repo      repository.LedgerRepository
	catalog   repository.CatalogRepository
	publisher feed.Publisher
	opts      LedgerOptions
	counters  *ledgerCounters
	logger    *zap.Logger
}

var _ LedgerService = (*Ledger)(nil)

// NewLedger crea el ledger. publisher puede ser nil.
func NewLedger(
	repo repository.LedgerRepository,
	catalog repository.CatalogRepository,
	publisher feed.Publisher,
	opts LedgerOptions,
	logger *zap.Logger,
) *Ledger {
	if opts.HistoryMaxLimit <= 0 {
		opts.HistoryMaxLimit = 500
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Ledger{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		opts:      opts,
		counters:  newLedgerCounters(),
		logger:    logger,
	}
}

// Metrics contadores del ledger desde el arranque
func (l *Ledger) Metrics() models.LedgerMetrics {
	return l.counters.snapshot()
}

// RegisterMaterial da de alta el material y su proyección en cero
func (l *Ledger) RegisterMaterial(ctx context.Context, m *models.Material) (*models.Balance, error) {
	logger := l.logger.With(
		zap.String("operation", "register_material"),
		zap.String("material_id", m.ID),
	)

	if strings.TrimSpace(m.ID) == "" {
		return nil, fmt.Errorf("%w: id vacío", ErrInvalidMaterial)
	}

	b := models.NewBalance(m.ID)
	err := l.withRetry(ctx, logger, func() error {
		return l.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			b = models.NewBalance(m.ID)
			return tx.CreateMaterial(ctx, m, b)
		})
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: %s", ErrMaterialExists, m.ID)
	}
	if err != nil {
		logger.Error("❌ Error registrando material", zap.Error(err))
		return nil, err
	}

	logger.Info("✅ Material registrado", zap.String("unit", m.Unit))
	return b, nil
}

// Record registra un movimiento y actualiza la proyección en la misma transacción
func (l *Ledger) Record(ctx context.Context, req RecordRequest) (*models.Movement, error) {
	logger := l.logger.With(
		zap.String("operation", "record"),
		zap.String("material_id", req.MaterialID),
		zap.String("kind", req.Kind.String()),
		zap.String("quantity", req.Quantity.String()),
	)

	if err := validateRecord(req); err != nil {
		logger.Debug("Movimiento rechazado", zap.Error(err))
		return nil, err
	}
	if err := l.ensureMaterial(ctx, req.MaterialID); err != nil {
		return nil, err
	}

	var mv *models.Movement
	err := l.withRetry(ctx, logger, func() error {
		return l.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			m, _, err := l.recordInTx(ctx, tx, req)
			mv = m
			return err
		})
	})
	if err != nil {
		logger.Error("❌ Error registrando movimiento", zap.Error(err))
		return nil, err
	}

	l.committed(ctx, mv)

	logger.Info("✅ Movimiento registrado",
		zap.Int64("movement_id", mv.ID),
		zap.String("on_hand", mv.OnHandAfter.String()),
		zap.String("average_cost", mv.AverageCostAfter.String()))
	return mv, nil
}

// recordInTx valida contra la proyección bloqueada, inserta el movimiento y guarda la proyección.
// Lo usan Record y los adaptadores que necesitan varios movimientos en una sola transacción.
func (l *Ledger) recordInTx(ctx context.Context, tx repository.LedgerTx, req RecordRequest) (*models.Movement, *models.Balance, error) {
	if err := validateRecord(req); err != nil {
		return nil, nil, err
	}

	b, err := tx.LockBalance(ctx, req.MaterialID)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownMaterial, req.MaterialID)
	}

	mv := buildMovement(b, req)
	if err := tx.InsertMovement(ctx, mv); err != nil {
		return nil, nil, err
	}
	if err := tx.SaveBalance(ctx, b); err != nil {
		return nil, nil, err
	}
	return mv, b, nil
}

// publishTimeout plazo de la publicación posterior al commit
const publishTimeout = 2 * time.Second

// committed cuenta y publica un movimiento ya confirmado. La publicación no
// hereda la cancelación del pedido: el movimiento ya existe aunque el cliente se vaya.
func (l *Ledger) committed(ctx context.Context, mv *models.Movement) {
	l.counters.movement(mv.Kind)

	if l.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := l.publisher.Publish(pubCtx, mv); err != nil {
		l.logger.Warn("No se pudo publicar el movimiento",
			zap.Int64("movement_id", mv.ID),
			zap.Error(err))
	}
}

// ensureMaterial consulta al catálogo (vía caché)
func (l *Ledger) ensureMaterial(ctx context.Context, materialID string) error {
	if l.catalog == nil {
		return nil
	}
	m, err := l.catalog.GetMaterial(ctx, materialID)
	if err != nil {
		return fmt.Errorf("error consultando catálogo: %w", err)
	}
	if m == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMaterial, materialID)
	}
	return nil
}

// Balance lee la fila de la proyección, nunca el historial
func (l *Ledger) Balance(ctx context.Context, materialID string) (*models.Balance, error) {
	b, err := l.repo.GetBalance(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo stock: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMaterial, materialID)
	}
	return b, nil
}

// History movimientos del material, más reciente primero
func (l *Ledger) History(ctx context.Context, materialID string, limit, offset int) ([]*models.Movement, error) {
	if limit < 1 || limit > l.opts.HistoryMaxLimit {
		return nil, fmt.Errorf("%w: limit debe estar entre 1 y %d", ErrInvalidPage, l.opts.HistoryMaxLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset negativo", ErrInvalidPage)
	}

	movements, err := l.repo.ListMovements(ctx, materialID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("error obteniendo movimientos: %w", err)
	}
	if len(movements) == 0 {
		// distinguir material inexistente de página vacía
		if _, err := l.Balance(ctx, materialID); err != nil {
			return nil, err
		}
	}
	return movements, nil
}

// Rebuild recalcula la proyección desde el historial completo y la guarda
func (l *Ledger) Rebuild(ctx context.Context, materialID string) (*models.Balance, error) {
	logger := l.logger.With(
		zap.String("operation", "rebuild"),
		zap.String("material_id", materialID),
	)

	var rebuilt *models.Balance
	var drift bool
	err := l.withRetry(ctx, logger, func() error {
		return l.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			b, err := tx.LockBalance(ctx, materialID)
			if err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("%w: %s", ErrUnknownMaterial, materialID)
			}

			movements, err := tx.MovementsAscending(ctx, materialID)
			if err != nil {
				return err
			}

			r := replay(materialID, b.Reserved, movements)
			drift = !r.OnHand.Equal(b.OnHand) || !r.WeightedAverageCost.Equal(b.WeightedAverageCost)

			b.OnHand = r.OnHand
			b.WeightedAverageCost = r.WeightedAverageCost
			if err := tx.SaveBalance(ctx, b); err != nil {
				return err
			}
			rebuilt = b
			return nil
		})
	})
	if err != nil {
		logger.Error("❌ Error reconstruyendo proyección", zap.Error(err))
		return nil, err
	}

	if drift {
		logger.Warn("⚠️ Proyección corregida desde el historial",
			zap.String("on_hand", rebuilt.OnHand.String()),
			zap.String("average_cost", rebuilt.WeightedAverageCost.String()))
	} else {
		logger.Info("✅ Proyección reconstruida sin diferencias")
	}
	return rebuilt, nil
}

// CheckConsistency compara la proyección guardada con un replay. No escribe;
// toma el lock de la proyección para que ambos lados vean el mismo historial.
func (l *Ledger) CheckConsistency(ctx context.Context, materialID string) (*models.ConsistencyReport, error) {
	var report *models.ConsistencyReport
	err := l.withRetry(ctx, l.logger, func() error {
		return l.repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			b, err := tx.LockBalance(ctx, materialID)
			if err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("%w: %s", ErrUnknownMaterial, materialID)
			}

			movements, err := tx.MovementsAscending(ctx, materialID)
			if err != nil {
				return err
			}

			r := replay(materialID, b.Reserved, movements)
			r.Version = b.Version
			r.UpdatedAt = b.UpdatedAt

			report = &models.ConsistencyReport{
				MaterialID: materialID,
				Stored:     b.View(),
				Replayed:   r.View(),
				Movements:  len(movements),
				Consistent: r.OnHand.Equal(b.OnHand) && r.WeightedAverageCost.Equal(b.WeightedAverageCost),
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		l.logger.Warn("⚠️ Proyección inconsistente con el historial",
			zap.String("material_id", materialID),
			zap.String("stored_on_hand", report.Stored.OnHand.String()),
			zap.String("replayed_on_hand", report.Replayed.OnHand.String()))
	}
	return report, nil
}

// CheckAll corre CheckConsistency para todos los materiales
func (l *Ledger) CheckAll(ctx context.Context) ([]*models.ConsistencyReport, error) {
	ids, err := l.repo.ListMaterialIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listando materiales: %w", err)
	}

	reports := make([]*models.ConsistencyReport, 0, len(ids))
	inconsistent := 0
	for _, id := range ids {
		report, err := l.CheckConsistency(ctx, id)
		if err != nil {
			return nil, err
		}
		if !report.Consistent {
			inconsistent++
		}
		reports = append(reports, report)
	}

	l.logger.Info("Chequeo de consistencia completo",
		zap.Int("materials", len(ids)),
		zap.Int("inconsistent", inconsistent))
	return reports, nil
}

// withRetry reintenta la operación completa ante conflictos de concurrencia
func (l *Ledger) withRetry(ctx context.Context, logger *zap.Logger, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isConflict(err) {
			return err
		}

		l.counters.conflict()
		if attempt >= l.opts.MaxRetries {
			return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
		}
		l.counters.retry()

		wait := l.opts.RetryBackoff * time.Duration(attempt+1)
		logger.Warn("Conflicto de concurrencia, reintentando",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// ledgerCounters contadores expuestos en monitoring
type ledgerCounters struct {
	mu     sync.Mutex
	byKind map[models.MovementKind]int64

	retries             int64
	conflicts           int64
	partialReceipts     int64
	completedWorkOrders int64
	receivedPurchases   int64
}

func newLedgerCounters() *ledgerCounters {
	return &ledgerCounters{byKind: make(map[models.MovementKind]int64)}
}

func (c *ledgerCounters) movement(kind models.MovementKind) {
	c.mu.Lock()
	c.byKind[kind]++
	c.mu.Unlock()
}

func (c *ledgerCounters) retry()          { atomic.AddInt64(&c.retries, 1) }
func (c *ledgerCounters) conflict()       { atomic.AddInt64(&c.conflicts, 1) }
func (c *ledgerCounters) partialReceipt() { atomic.AddInt64(&c.partialReceipts, 1) }
func (c *ledgerCounters) workOrder()      { atomic.AddInt64(&c.completedWorkOrders, 1) }
func (c *ledgerCounters) purchase()       { atomic.AddInt64(&c.receivedPurchases, 1) }

func (c *ledgerCounters) snapshot() models.LedgerMetrics {
	c.mu.Lock()
	byKind := make(map[string]int64, len(c.byKind))
	var total int64
	for kind, n := range c.byKind {
		byKind[kind.String()] = n
		total += n
	}
	c.mu.Unlock()

	return models.LedgerMetrics{
		MovementsByKind:     byKind,
		TotalMovements:      total,
		ConflictRetries:     atomic.LoadInt64(&c.retries),
		Conflicts:           atomic.LoadInt64(&c.conflicts),
		PartialReceipts:     atomic.LoadInt64(&c.partialReceipts),
		CompletedWorkOrders: atomic.LoadInt64(&c.completedWorkOrders),
		ReceivedPurchases:   atomic.LoadInt64(&c.receivedPurchases),
	}
}
