package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"stock-ledger/internal/models"

	"github.com/lib/pq"
)

// postgresLedgerRepository implementa LedgerRepository sobre PostgreSQL
type postgresLedgerRepository struct {
	db          *sql.DB
	stmts       map[string]*sql.Stmt
	lockTimeout time.Duration
}

// NewPostgresLedgerRepository crea una nueva instancia del repository.
// lockTimeout acota la espera por el lock de una fila; al vencer se reporta ErrConflict.
func NewPostgresLedgerRepository(db *sql.DB, lockTimeout time.Duration) (LedgerRepository, error) {
	repo := &postgresLedgerRepository{
		db:          db,
		stmts:       make(map[string]*sql.Stmt),
		lockTimeout: lockTimeout,
	}

	if err := repo.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return repo, nil
}

const (
	balanceColumns  = `material_id, on_hand, reserved, weighted_average_cost, version, updated_at`
	movementColumns = `id, material_id, kind, quantity, unit_cost, movement_value, source_reference,
		comment, on_hand_before, on_hand_after, average_cost_after, recorded_at`
	workOrderColumns = `id, number, material_id, status, planned_quantity, produced_quantity,
		byproduct_quantity, completed_at`
	lineColumns = `id, purchase_id, material_id, description, quantity, unit_price, position`
)

// prepareStatements prepara todas las consultas SQL para mejor rendimiento
func (r *postgresLedgerRepository) prepareStatements() error {
	statements := map[string]string{
		"get_balance": `SELECT ` + balanceColumns + ` FROM stock_balances WHERE material_id = $1`,
		"lock_balance": `SELECT ` + balanceColumns + ` FROM stock_balances WHERE material_id = $1 FOR UPDATE`,
		"save_balance": `
			UPDATE stock_balances
			SET on_hand = $1, reserved = $2, weighted_average_cost = $3,
				version = version + 1, updated_at = NOW()
			WHERE material_id = $4
			RETURNING version, updated_at
		`,
		"create_material": `
			INSERT INTO materials (id, name, unit) VALUES ($1, $2, $3)
			RETURNING created_at
		`,
		"create_balance": `
			INSERT INTO stock_balances (material_id, on_hand, reserved, weighted_average_cost)
			VALUES ($1, $2, $3, $4)
			RETURNING version, updated_at
		`,
		"insert_movement": `
			INSERT INTO stock_movements
			(material_id, kind, quantity, unit_cost, movement_value, source_reference, comment,
			 on_hand_before, on_hand_after, average_cost_after)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, recorded_at
		`,
		"list_movements": `
			SELECT ` + movementColumns + `
			FROM stock_movements
			WHERE material_id = $1
			ORDER BY recorded_at DESC, id DESC
			LIMIT $2 OFFSET $3
		`,
		"movements_ascending": `
			SELECT ` + movementColumns + `
			FROM stock_movements
			WHERE material_id = $1
			ORDER BY id ASC
		`,
		"list_material_ids": `SELECT material_id FROM stock_balances ORDER BY material_id`,
		"get_work_order":    `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id = $1`,
		"lock_work_order":   `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id = $1 FOR UPDATE`,
		"save_work_order": `
			UPDATE work_orders
			SET status = $1, produced_quantity = $2, byproduct_quantity = $3, completed_at = $4
			WHERE id = $5
		`,
		"create_work_order": `
			INSERT INTO work_orders (number, material_id, status, planned_quantity)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`,
		"get_purchase":  `SELECT id, number, status, received_at FROM purchases WHERE id = $1`,
		"lock_purchase": `SELECT id, number, status, received_at FROM purchases WHERE id = $1 FOR UPDATE`,
		"purchase_lines": `
			SELECT ` + lineColumns + `
			FROM purchase_lines
			WHERE purchase_id = $1
			ORDER BY position, id
		`,
		"save_purchase_status": `UPDATE purchases SET status = $1, received_at = $2 WHERE id = $3`,
		"create_purchase": `
			INSERT INTO purchases (number, status) VALUES ($1, $2)
			RETURNING id
		`,
		"create_purchase_line": `
			INSERT INTO purchase_lines (purchase_id, material_id, description, quantity, unit_price, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
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

// WithinTx abre una transacción READ COMMITTED; los locks de fila (FOR UPDATE)
// serializan a los escritores del mismo material.
func (r *postgresLedgerRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return mapError(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	if err := fn(&postgresTx{repo: r, tx: tx}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// LockDocument toma un advisory lock de sesión sobre una conexión dedicada.
// El lock vive lo que vive la sesión, así que la conexión queda fuera del pool
// hasta que se llama a unlock.
func (r *postgresLedgerRepository) LockDocument(ctx context.Context, key string) (func(), error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtextextended($1, 0))", key); err != nil {
		// una espera cancelada puede dejar la sesión en estado incierto
		discardConn(conn)
		return nil, mapError(fmt.Errorf("failed to acquire document lock %s: %w", key, err))
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var released bool
		err := conn.QueryRowContext(unlockCtx, "SELECT pg_advisory_unlock(hashtextextended($1, 0))", key).Scan(&released)
		if err != nil || !released {
			// sin unlock confirmado la sesión no vuelve al pool
			discardConn(conn)
			return
		}
		conn.Close()
	}, nil
}

// discardConn cierra la conexión física en lugar de devolverla al pool
func discardConn(conn *sql.Conn) {
	conn.Raw(func(any) error { return driver.ErrBadConn })
	conn.Close()
}

// GetBalance obtiene la proyección de un material
func (r *postgresLedgerRepository) GetBalance(ctx context.Context, materialID string) (*models.Balance, error) {
	b, err := scanBalance(r.stmts["get_balance"].QueryRowContext(ctx, materialID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// ListMovements obtiene el historial paginado de un material
func (r *postgresLedgerRepository) ListMovements(ctx context.Context, materialID string, limit, offset int) ([]*models.Movement, error) {
	rows, err := r.stmts["list_movements"].QueryContext(ctx, materialID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	return scanMovements(rows)
}

func (r *postgresLedgerRepository) ListMaterialIDs(ctx context.Context) ([]string, error) {
	rows, err := r.stmts["list_material_ids"].QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list materials: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan material id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *postgresLedgerRepository) GetWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error) {
	wo, err := scanWorkOrder(r.stmts["get_work_order"].QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}
	return wo, nil
}

func (r *postgresLedgerRepository) GetPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	return r.loadPurchase(ctx, r.stmts["get_purchase"], r.stmts["purchase_lines"], id)
}

func (r *postgresLedgerRepository) loadPurchase(ctx context.Context, header, lines *sql.Stmt, id int64) (*models.Purchase, error) {
	var p models.Purchase
	var status string
	err := header.QueryRowContext(ctx, id).Scan(&p.ID, &p.Number, &status, &p.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase: %w", err)
	}
	p.Status = models.PurchaseStatus(status)

	rows, err := lines.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchase lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l models.PurchaseLine
		if err := rows.Scan(&l.ID, &l.PurchaseID, &l.MaterialID, &l.Description,
			&l.Quantity, &l.UnitPrice, &l.Position); err != nil {
			return nil, fmt.Errorf("failed to scan purchase line: %w", err)
		}
		p.Lines = append(p.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read purchase lines: %w", err)
	}

	return &p, nil
}

func (r *postgresLedgerRepository) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	err := r.stmts["create_work_order"].QueryRowContext(ctx,
		wo.Number, wo.MaterialID, string(wo.Status), wo.PlannedQuantity,
	).Scan(&wo.ID)
	if err != nil {
		return mapError(fmt.Errorf("failed to create work order: %w", err))
	}
	return nil
}

// CreatePurchase inserta la compra y sus líneas en una transacción
func (r *postgresLedgerRepository) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.StmtContext(ctx, r.stmts["create_purchase"]).QueryRowContext(ctx,
		p.Number, string(p.Status),
	).Scan(&p.ID); err != nil {
		return mapError(fmt.Errorf("failed to create purchase: %w", err))
	}

	lineStmt := tx.StmtContext(ctx, r.stmts["create_purchase_line"])
	for i := range p.Lines {
		l := &p.Lines[i]
		l.PurchaseID = p.ID
		if l.Position == 0 {
			l.Position = i + 1
		}
		if err := lineStmt.QueryRowContext(ctx,
			l.PurchaseID, l.MaterialID, l.Description, l.Quantity, l.UnitPrice, l.Position,
		).Scan(&l.ID); err != nil {
			return mapError(fmt.Errorf("failed to create purchase line %d: %w", i, err))
		}
	}

	return tx.Commit()
}

// postgresTx implementa LedgerTx sobre una *sql.Tx reutilizando las sentencias preparadas
type postgresTx struct {
	repo *postgresLedgerRepository
	tx   *sql.Tx
}

func (t *postgresTx) stmt(ctx context.Context, name string) *sql.Stmt {
	return t.tx.StmtContext(ctx, t.repo.stmts[name])
}

func (t *postgresTx) CreateMaterial(ctx context.Context, m *models.Material, b *models.Balance) error {
	if err := t.stmt(ctx, "create_material").QueryRowContext(ctx, m.ID, m.Name, m.Unit).Scan(&m.CreatedAt); err != nil {
		return fmt.Errorf("failed to create material: %w", err)
	}
	if err := t.stmt(ctx, "create_balance").QueryRowContext(ctx,
		b.MaterialID, b.OnHand, b.Reserved, b.WeightedAverageCost,
	).Scan(&b.Version, &b.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (t *postgresTx) LockBalance(ctx context.Context, materialID string) (*models.Balance, error) {
	b, err := scanBalance(t.stmt(ctx, "lock_balance").QueryRowContext(ctx, materialID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return b, nil
}

func (t *postgresTx) SaveBalance(ctx context.Context, b *models.Balance) error {
	err := t.stmt(ctx, "save_balance").QueryRowContext(ctx,
		b.OnHand, b.Reserved, b.WeightedAverageCost, b.MaterialID,
	).Scan(&b.Version, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("no balance found for material %s", b.MaterialID)
	}
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertMovement(ctx context.Context, m *models.Movement) error {
	err := t.stmt(ctx, "insert_movement").QueryRowContext(ctx,
		m.MaterialID, m.Kind.String(), m.Quantity, m.UnitCost, m.MovementValue,
		m.SourceReference, m.Comment, m.OnHandBefore, m.OnHandAfter, m.AverageCostAfter,
	).Scan(&m.ID, &m.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

func (t *postgresTx) MovementsAscending(ctx context.Context, materialID string) ([]*models.Movement, error) {
	rows, err := t.stmt(ctx, "movements_ascending").QueryContext(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("failed to read movements: %w", err)
	}
	return scanMovements(rows)
}

func (t *postgresTx) LockWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error) {
	wo, err := scanWorkOrder(t.stmt(ctx, "lock_work_order").QueryRowContext(ctx, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock work order: %w", err)
	}
	return wo, nil
}

func (t *postgresTx) SaveWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	result, err := t.stmt(ctx, "save_work_order").ExecContext(ctx,
		string(wo.Status), wo.ProducedQuantity, wo.ByproductQuantity, wo.CompletedAt, wo.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save work order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no work order found with id %d", wo.ID)
	}
	return nil
}

func (t *postgresTx) LockPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	return t.repo.loadPurchase(ctx, t.stmt(ctx, "lock_purchase"), t.stmt(ctx, "purchase_lines"), id)
}

func (t *postgresTx) SavePurchaseStatus(ctx context.Context, p *models.Purchase) error {
	result, err := t.stmt(ctx, "save_purchase_status").ExecContext(ctx, string(p.Status), p.ReceivedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no purchase found with id %d", p.ID)
	}
	return nil
}

// rowScanner abstrae *sql.Row y *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBalance(row rowScanner) (*models.Balance, error) {
	var b models.Balance
	if err := row.Scan(&b.MaterialID, &b.OnHand, &b.Reserved, &b.WeightedAverageCost, &b.Version, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanMovements(rows *sql.Rows) ([]*models.Movement, error) {
	defer rows.Close()

	movements := []*models.Movement{}
	for rows.Next() {
		var m models.Movement
		var kind string
		err := rows.Scan(
			&m.ID, &m.MaterialID, &kind, &m.Quantity, &m.UnitCost, &m.MovementValue,
			&m.SourceReference, &m.Comment, &m.OnHandBefore, &m.OnHandAfter,
			&m.AverageCostAfter, &m.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		if m.Kind, err = models.ParseMovementKind(kind); err != nil {
			return nil, err
		}
		movements = append(movements, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read movements: %w", err)
	}

	return movements, nil
}

func scanWorkOrder(row rowScanner) (*models.WorkOrder, error) {
	var wo models.WorkOrder
	var status string
	err := row.Scan(&wo.ID, &wo.Number, &wo.MaterialID, &status, &wo.PlannedQuantity,
		&wo.ProducedQuantity, &wo.ByproductQuantity, &wo.CompletedAt)
	if err != nil {
		return nil, err
	}
	wo.Status = models.WorkOrderStatus(status)
	return &wo, nil
}

// Códigos SQLSTATE que indican que la operación completa puede reintentarse
var retryableCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available (lock_timeout)
}

// mapError traduce errores de PostgreSQL a los errores del repositorio
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch {
	case retryableCodes[pqErr.Code]:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case pqErr.Code == "23505": // unique_violation
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
