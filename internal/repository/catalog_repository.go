package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-ledger/internal/models"

	"go.uber.org/zap"
)

// MaterialLister listado de materiales usados para pre-carga del caché
type MaterialLister interface {
	ListRecentMaterials(ctx context.Context, limit int) ([]*models.Material, error)
}

// catalogRepository implementación del repository de catálogo sobre PostgreSQL
type catalogRepository struct {
	db     *sql.DB
	stmts  map[string]*sql.Stmt
	logger *zap.Logger
}

// NewCatalogRepository crea una nueva instancia del repository
func NewCatalogRepository(db *sql.DB, logger *zap.Logger) (*catalogRepository, error) {
	repo := &catalogRepository{
		db:     db,
		stmts:  make(map[string]*sql.Stmt),
		logger: logger,
	}

	if err := repo.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return repo, nil
}

var (
	_ CatalogRepository = (*catalogRepository)(nil)
	_ MaterialLister    = (*catalogRepository)(nil)
)

// prepareStatements prepara todas las queries SQL
func (r *catalogRepository) prepareStatements() error {
	statements := map[string]string{
		"get_material": `SELECT id, name, unit, created_at FROM materials WHERE id = $1`,
		// Materiales con movimientos más recientes primero
		"recent_materials": `
			SELECT m.id, m.name, m.unit, m.created_at
			FROM materials m
			JOIN stock_balances b ON b.material_id = m.id
			ORDER BY b.updated_at DESC
			LIMIT $1
		`,
	}

	for name, query := range statements {
		stmt, err := r.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s: %w", name, err)
		}
		r.stmts[name] = stmt
	}

	return nil
}

// GetMaterial busca un material por su identificador
func (r *catalogRepository) GetMaterial(ctx context.Context, id string) (*models.Material, error) {
	start := time.Now()

	var m models.Material
	err := r.stmts["get_material"].QueryRowContext(ctx, id).Scan(&m.ID, &m.Name, &m.Unit, &m.CreatedAt)
	if err == sql.ErrNoRows {
		r.logger.Debug("Material no encontrado",
			zap.String("material_id", id),
			zap.Duration("latency", time.Since(start)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get material: %w", err)
	}

	return &m, nil
}

// ListRecentMaterials obtiene los materiales con actividad reciente para pre-carga
func (r *catalogRepository) ListRecentMaterials(ctx context.Context, limit int) ([]*models.Material, error) {
	rows, err := r.stmts["recent_materials"].QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	var materials []*models.Material
	for rows.Next() {
		var m models.Material
		if err := rows.Scan(&m.ID, &m.Name, &m.Unit, &m.CreatedAt); err != nil {
			r.logger.Error("Error scanning material", zap.Error(err))
			continue
		}
		materials = append(materials, &m)
	}

	return materials, rows.Err()
}
