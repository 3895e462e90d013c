package cache

import (
	"context"
	"testing"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newCatalog(t *testing.T, ids ...string) *repository.MemoryLedgerRepository {
	t.Helper()
	repo := repository.NewMemoryLedgerRepository()
	ctx := context.Background()
	for _, id := range ids {
		id := id
		require.NoError(t, repo.WithinTx(ctx, func(tx repository.LedgerTx) error {
			return tx.CreateMaterial(ctx, &models.Material{ID: id, Name: id, Unit: "kg"}, models.NewBalance(id))
		}))
	}
	return repo
}

func TestMaterialCacheL1Only(t *testing.T) {
	catalog := newCatalog(t, "M-1")
	mc := NewMaterialCache(catalog, nil, 10, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	m, err := mc.GetMaterial(ctx, "M-1")
	require.NoError(t, err)
	require.NotNil(t, m)

	m, err = mc.GetMaterial(ctx, "M-1")
	require.NoError(t, err)
	assert.Equal(t, "kg", m.Unit)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.TotalKeys)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestMaterialCacheUnknownIsNotCached(t *testing.T) {
	mc := NewMaterialCache(newCatalog(t), nil, 10, time.Minute, zaptest.NewLogger(t))

	m, err := mc.GetMaterial(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, 0, mc.GetStats().TotalKeys)
}

func TestMaterialCacheEvictsAtCapacity(t *testing.T) {
	catalog := newCatalog(t, "A", "B", "C")
	mc := NewMaterialCache(catalog, nil, 2, time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		_, err := mc.GetMaterial(ctx, id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, mc.GetStats().TotalKeys)

	require.NoError(t, mc.InvalidateMaterial(ctx, "C"))
	assert.LessOrEqual(t, mc.GetStats().TotalKeys, 1)
}

func TestMaterialCachePreload(t *testing.T) {
	catalog := newCatalog(t, "A", "B")
	mc := NewMaterialCache(catalog, nil, 10, time.Minute, zaptest.NewLogger(t))

	n, err := mc.Preload(context.Background(), catalog, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, mc.GetStats().TotalKeys)
}
