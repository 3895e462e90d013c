package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"stock-ledger/internal/models"
	"stock-ledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheStats estadísticas del caché
type CacheStats struct {
	Hits          int64
	Misses        int64
	TotalRequests int64
	TotalKeys     int
}

// HitRate proporción de aciertos sobre el total de consultas
func (s CacheStats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

// MaterialCache implementa caché multi-nivel delante del catálogo de materiales.
// Solo guarda datos del catálogo; las proyecciones de stock nunca pasan por aquí.
type MaterialCache struct {
	// L1 Cache: Memoria local
	l1Cache map[string]*models.Material
	l1Mutex sync.RWMutex

	// L2 Cache: Redis (opcional, nil = solo L1)
	redisClient *redis.Client

	catalog repository.CatalogRepository

	maxL1Size int
	ttl       time.Duration

	logger *zap.Logger

	statsMutex sync.RWMutex
	hits       int64
	misses     int64
}

var _ repository.CatalogRepository = (*MaterialCache)(nil)

// NewMaterialCache crea una nueva instancia del caché sobre el catálogo dado
func NewMaterialCache(catalog repository.CatalogRepository, redisClient *redis.Client, maxL1Size int, ttl time.Duration, logger *zap.Logger) *MaterialCache {
	if maxL1Size <= 0 {
		maxL1Size = 1
	}
	return &MaterialCache{
		l1Cache:     make(map[string]*models.Material),
		redisClient: redisClient,
		catalog:     catalog,
		maxL1Size:   maxL1Size,
		ttl:         ttl,
		logger:      logger,
	}
}

// GetStats retorna estadísticas del caché
func (mc *MaterialCache) GetStats() CacheStats {
	mc.statsMutex.RLock()
	defer mc.statsMutex.RUnlock()

	mc.l1Mutex.RLock()
	totalKeys := len(mc.l1Cache)
	mc.l1Mutex.RUnlock()

	return CacheStats{
		Hits:          mc.hits,
		Misses:        mc.misses,
		TotalRequests: mc.hits + mc.misses,
		TotalKeys:     totalKeys,
	}
}

// GetMaterial busca un material: L1, luego Redis, luego el catálogo.
// Los materiales inexistentes no se cachean.
func (mc *MaterialCache) GetMaterial(ctx context.Context, id string) (*models.Material, error) {
	start := time.Now()

	if m := mc.getFromL1(id); m != nil {
		mc.recordHit()
		mc.logger.Debug("L1 cache hit",
			zap.String("material_id", id),
			zap.Duration("latency", time.Since(start)))
		return m, nil
	}

	if m, err := mc.getFromL2(ctx, id); err == nil && m != nil {
		mc.setToL1(id, m)
		mc.recordHit()
		mc.logger.Debug("L2 cache hit",
			zap.String("material_id", id),
			zap.Duration("latency", time.Since(start)))
		return m, nil
	}

	mc.recordMiss()
	m, err := mc.catalog.GetMaterial(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	if err := mc.SetMaterial(ctx, m); err != nil {
		mc.logger.Warn("No se pudo guardar material en L2", zap.String("material_id", id), zap.Error(err))
	}
	mc.logger.Debug("Cache miss",
		zap.String("material_id", id),
		zap.Duration("latency", time.Since(start)))
	return m, nil
}

func (mc *MaterialCache) recordHit() {
	mc.statsMutex.Lock()
	mc.hits++
	mc.statsMutex.Unlock()
}

func (mc *MaterialCache) recordMiss() {
	mc.statsMutex.Lock()
	mc.misses++
	mc.statsMutex.Unlock()
}

// SetMaterial almacena un material en ambos niveles de caché
func (mc *MaterialCache) SetMaterial(ctx context.Context, m *models.Material) error {
	mc.setToL1(m.ID, m)
	return mc.setToL2(ctx, m)
}

// InvalidateMaterial invalida un material en ambos cachés
func (mc *MaterialCache) InvalidateMaterial(ctx context.Context, id string) error {
	mc.l1Mutex.Lock()
	delete(mc.l1Cache, id)
	mc.l1Mutex.Unlock()

	if mc.redisClient == nil {
		return nil
	}
	return mc.redisClient.Del(ctx, materialKey(id)).Err()
}

// Preload pre-carga los materiales con actividad reciente
func (mc *MaterialCache) Preload(ctx context.Context, lister repository.MaterialLister, limit int) (int, error) {
	materials, err := lister.ListRecentMaterials(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, m := range materials {
		if err := mc.SetMaterial(ctx, m); err != nil {
			mc.logger.Debug("Material no pre-cargado en L2", zap.String("material_id", m.ID), zap.Error(err))
		}
	}
	return len(materials), nil
}

func (mc *MaterialCache) getFromL1(id string) *models.Material {
	mc.l1Mutex.RLock()
	defer mc.l1Mutex.RUnlock()
	m, ok := mc.l1Cache[id]
	if !ok {
		return nil
	}
	c := *m
	return &c
}

func (mc *MaterialCache) setToL1(id string, m *models.Material) {
	mc.l1Mutex.Lock()
	defer mc.l1Mutex.Unlock()

	if _, exists := mc.l1Cache[id]; !exists && len(mc.l1Cache) >= mc.maxL1Size {
		mc.evict()
	}

	c := *m
	mc.l1Cache[id] = &c
}

// evict elimina una entrada cualquiera (el orden de iteración del map es aleatorio)
func (mc *MaterialCache) evict() {
	for key := range mc.l1Cache {
		delete(mc.l1Cache, key)
		break
	}
}

func (mc *MaterialCache) getFromL2(ctx context.Context, id string) (*models.Material, error) {
	if mc.redisClient == nil {
		return nil, nil
	}
	data, err := mc.redisClient.Get(ctx, materialKey(id)).Result()
	if err != nil {
		return nil, err
	}

	var m models.Material
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (mc *MaterialCache) setToL2(ctx context.Context, m *models.Material) error {
	if mc.redisClient == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return mc.redisClient.Set(ctx, materialKey(m.ID), data, mc.ttl).Err()
}

func materialKey(id string) string {
	return fmt.Sprintf("material:%s", id)
}
