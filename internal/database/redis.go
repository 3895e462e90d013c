package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisDB cliente opcional: L2 del caché de materiales y pub/sub del feed
type RedisDB struct {
	Client *redis.Client
}

// NewRedisDB conecta a Redis. El feed mantiene una conexión de suscripción
// abierta, por eso el pool tiene un mínimo de conexiones ociosas.
func NewRedisDB(url, password string, db int, logger *zap.Logger) (*RedisDB, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if password != "" {
		opt.Password = password
	}
	opt.DB = db
	opt.MinIdleConns = 2
	opt.DialTimeout = 3 * time.Second
	opt.ReadTimeout = 2 * time.Second
	opt.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info("✅ Redis conectado",
		zap.String("addr", opt.Addr),
		zap.Int("db", db),
		zap.Int("pool_size", opt.PoolSize),
	)

	return &RedisDB{Client: client}, nil
}

func (r *RedisDB) Close() error {
	return r.Client.Close()
}

func (r *RedisDB) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// PoolStats estado del pool de conexiones del cliente
type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
}

// GetStats estadísticas del pool más la cantidad de claves del caché de materiales
func (r *RedisDB) GetStats(ctx context.Context) (map[string]interface{}, error) {
	ps := r.Client.PoolStats()

	var cursor uint64
	materialKeys := 0
	for {
		keys, next, err := r.Client.Scan(ctx, cursor, "material:*", 500).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan material keys: %w", err)
		}
		materialKeys += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return map[string]interface{}{
		"pool": PoolStats{
			Hits:       ps.Hits,
			Misses:     ps.Misses,
			Timeouts:   ps.Timeouts,
			TotalConns: ps.TotalConns,
			IdleConns:  ps.IdleConns,
		},
		"material_keys": materialKeys,
	}, nil
}
