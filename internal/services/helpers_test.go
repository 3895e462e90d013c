package services

import (
	"context"
	"sync"
	"testing"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newTestLedger(t *testing.T, materials ...string) (*Ledger, *repository.MemoryLedgerRepository) {
	t.Helper()
	repo := repository.NewMemoryLedgerRepository()
	ledger := NewLedger(repo, repo, nil, LedgerOptions{MaxRetries: 3, HistoryMaxLimit: 100}, zaptest.NewLogger(t))
	for _, id := range materials {
		_, err := ledger.RegisterMaterial(context.Background(), &models.Material{ID: id, Name: id, Unit: "kg"})
		require.NoError(t, err)
	}
	return ledger, repo
}

func mustRecord(t *testing.T, l *Ledger, req RecordRequest) *models.Movement {
	t.Helper()
	mv, err := l.Record(context.Background(), req)
	require.NoError(t, err)
	return mv
}

func entry(material, qty, cost string) RecordRequest {
	return RecordRequest{MaterialID: material, Kind: models.KindEntry, Quantity: dec(qty), UnitCost: decPtr(cost)}
}

func exit(material, qty string) RecordRequest {
	return RecordRequest{MaterialID: material, Kind: models.KindExit, Quantity: dec(qty)}
}

func adjustment(material, qty string) RecordRequest {
	return RecordRequest{MaterialID: material, Kind: models.KindAdjustment, Quantity: dec(qty)}
}

// conflictRepo falla con ErrConflict las primeras N transacciones
type conflictRepo struct {
	*repository.MemoryLedgerRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *conflictRepo) WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()

	if fail {
		return repository.ErrConflict
	}
	return r.MemoryLedgerRepository.WithinTx(ctx, fn)
}

// recordingPublisher guarda lo publicado
type recordingPublisher struct {
	mu        sync.Mutex
	movements []*models.Movement
	ctxErrs   []error
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, m *models.Movement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.movements = append(p.movements, m)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return p.err
}

// cancelAfterCommitRepo cancela el contexto del pedido apenas confirma,
// como un cliente que se desconecta justo después del commit
type cancelAfterCommitRepo struct {
	*repository.MemoryLedgerRepository
	cancel context.CancelFunc
}

func (r *cancelAfterCommitRepo) WithinTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	err := r.MemoryLedgerRepository.WithinTx(ctx, fn)
	if err == nil && r.cancel != nil {
		r.cancel()
	}
	return err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.movements)
}
