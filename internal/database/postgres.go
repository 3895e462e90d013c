package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const connectAttempts = 5

// PostgresDB pool compartido por el ledger y el catálogo
type PostgresDB struct {
	DB *sql.DB
}

// NewPostgresDB abre el pool y espera a que la base responda; reintenta el ping
// porque en docker-compose la base suele arrancar después del servicio.
func NewPostgresDB(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration, logger *zap.Logger) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		pingErr = db.PingContext(ctx)
		cancel()
		if pingErr == nil {
			break
		}
		logger.Warn("⚠️ PostgreSQL no responde, reintentando",
			zap.Int("attempt", attempt),
			zap.Error(pingErr))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", connectAttempts, pingErr)
	}

	logger.Info("✅ PostgreSQL conectado",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime),
	)

	return &PostgresDB{DB: db}, nil
}

func (p *PostgresDB) Close() error {
	return p.DB.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// GetStats estadísticas del pool; WaitCount alto indica contención por locks de filas
func (p *PostgresDB) GetStats() sql.DBStats {
	return p.DB.Stats()
}
