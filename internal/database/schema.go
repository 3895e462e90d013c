package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// schemaStatements crea el esquema mínimo del ledger. Todas las sentencias son idempotentes.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS materials (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		unit       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_balances (
		material_id           TEXT PRIMARY KEY REFERENCES materials(id),
		on_hand               NUMERIC NOT NULL DEFAULT 0,
		reserved              NUMERIC NOT NULL DEFAULT 0,
		weighted_average_cost NUMERIC NOT NULL DEFAULT 0,
		version               BIGINT NOT NULL DEFAULT 0,
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id                 BIGSERIAL PRIMARY KEY,
		material_id        TEXT NOT NULL REFERENCES materials(id),
		kind               TEXT NOT NULL CHECK (kind IN ('entry', 'exit', 'adjustment', 'byproduct_return')),
		quantity           NUMERIC NOT NULL,
		unit_cost          NUMERIC NOT NULL CHECK (unit_cost >= 0),
		movement_value     NUMERIC NOT NULL,
		source_reference   TEXT,
		comment            TEXT,
		on_hand_before     NUMERIC NOT NULL,
		on_hand_after      NUMERIC NOT NULL,
		average_cost_after NUMERIC NOT NULL,
		recorded_at        TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_movements_material_recorded
		ON stock_movements (material_id, recorded_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS work_orders (
		id                 BIGSERIAL PRIMARY KEY,
		number             TEXT NOT NULL UNIQUE,
		material_id        TEXT NOT NULL REFERENCES materials(id),
		status             TEXT NOT NULL,
		planned_quantity   NUMERIC NOT NULL DEFAULT 0,
		produced_quantity  NUMERIC NOT NULL DEFAULT 0,
		byproduct_quantity NUMERIC NOT NULL DEFAULT 0,
		completed_at       TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id          BIGSERIAL PRIMARY KEY,
		number      TEXT NOT NULL UNIQUE,
		status      TEXT NOT NULL,
		received_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_lines (
		id          BIGSERIAL PRIMARY KEY,
		purchase_id BIGINT NOT NULL REFERENCES purchases(id),
		material_id TEXT REFERENCES materials(id),
		description TEXT NOT NULL DEFAULT '',
		quantity    NUMERIC NOT NULL,
		unit_price  NUMERIC NOT NULL,
		position    INT NOT NULL DEFAULT 0
	)`,
}

// Migrate aplica el esquema del ledger
func (p *PostgresDB) Migrate(ctx context.Context, logger *zap.Logger) error {
	for i, stmt := range schemaStatements {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}

	logger.Info("Database schema ready", zap.Int("statements", len(schemaStatements)))
	return nil
}
