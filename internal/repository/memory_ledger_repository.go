package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stock-ledger/internal/locks"
	"stock-ledger/internal/models"
)

// MemoryLedgerRepository implementa LedgerRepository y CatalogRepository en memoria.
// Cada transacción acumula sus escrituras y las aplica de una sola vez en el commit;
// los locks son por fila (material, orden de trabajo, compra), igual que en PostgreSQL.
type MemoryLedgerRepository struct {
	mu         sync.RWMutex
	rowLocks   *locks.Keyed
	docLocks   *locks.Keyed
	materials  map[string]*models.Material
	balances   map[string]*models.Balance
	movements  map[string][]*models.Movement
	workOrders map[int64]*models.WorkOrder
	purchases  map[int64]*models.Purchase

	seqMu          sync.Mutex
	nextMovementID int64
	nextDocumentID int64

	insertHook func(m *models.Movement) error
	now        func() time.Time
}

var (
	_ LedgerRepository  = (*MemoryLedgerRepository)(nil)
	_ CatalogRepository = (*MemoryLedgerRepository)(nil)
	_ MaterialLister    = (*MemoryLedgerRepository)(nil)
)

// NewMemoryLedgerRepository crea un repositorio vacío
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		rowLocks:   locks.NewKeyed(),
		docLocks:   locks.NewKeyed(),
		materials:  make(map[string]*models.Material),
		balances:   make(map[string]*models.Balance),
		movements:  make(map[string][]*models.Movement),
		workOrders: make(map[int64]*models.WorkOrder),
		purchases:  make(map[int64]*models.Purchase),
		now:        time.Now,
	}
}

// SetInsertHook instala una función que se ejecuta antes de cada InsertMovement;
// si devuelve error la inserción falla. Pensado para simular fallas del storage.
func (r *MemoryLedgerRepository) SetInsertHook(hook func(m *models.Movement) error) {
	r.mu.Lock()
	r.insertHook = hook
	r.mu.Unlock()
}

// OverwriteBalance reemplaza la proyección sin pasar por el ledger (cambio fuera de banda)
func (r *MemoryLedgerRepository) OverwriteBalance(b *models.Balance) {
	r.mu.Lock()
	r.balances[b.MaterialID] = b.Clone()
	r.mu.Unlock()
}

// LockDocument usa un espacio de claves propio: no compite con los locks de
// fila que toman las transacciones mientras se tiene el lock del documento.
func (r *MemoryLedgerRepository) LockDocument(ctx context.Context, key string) (func(), error) {
	return r.docLocks.Lock(ctx, key)
}

// WithinTx ejecuta fn y confirma las escrituras acumuladas si no hubo error
func (r *MemoryLedgerRepository) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		repo:       r,
		held:       make(map[string]func()),
		balances:   make(map[string]*models.Balance),
		workOrders: make(map[int64]*models.WorkOrder),
		purchases:  make(map[int64]*models.Purchase),
	}
	defer tx.releaseLocks()

	if err := fn(tx); err != nil {
		return err
	}

	// Cancelado antes del commit: se descarta todo
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range tx.materials {
		r.materials[m.ID] = m
	}
	for id, b := range tx.balances {
		r.balances[id] = b
	}
	for _, m := range tx.movements {
		r.movements[m.MaterialID] = append(r.movements[m.MaterialID], m)
	}
	for id, wo := range tx.workOrders {
		r.workOrders[id] = wo
	}
	for id, p := range tx.purchases {
		r.purchases[id] = p
	}

	return nil
}

// GetBalance obtiene la proyección confirmada de un material
func (r *MemoryLedgerRepository) GetBalance(ctx context.Context, materialID string) (*models.Balance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.balances[materialID]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

// ListMovements historial paginado, más reciente primero
func (r *MemoryLedgerRepository) ListMovements(ctx context.Context, materialID string, limit, offset int) ([]*models.Movement, error) {
	r.mu.RLock()
	src := r.movements[materialID]
	all := make([]*models.Movement, len(src))
	copy(all, src)
	r.mu.RUnlock()

	sortMovementsDesc(all)

	if offset >= len(all) {
		return []*models.Movement{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]*models.Movement, 0, end-offset)
	for _, m := range all[offset:end] {
		c := *m
		page = append(page, &c)
	}
	return page, nil
}

// ListMaterialIDs ids de todos los materiales con proyección
func (r *MemoryLedgerRepository) ListMaterialIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.balances))
	for id := range r.balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetMaterial implementa CatalogRepository
func (r *MemoryLedgerRepository) GetMaterial(ctx context.Context, id string) (*models.Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.materials[id]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

// ListRecentMaterials materiales ordenados por última actualización de su proyección
func (r *MemoryLedgerRepository) ListRecentMaterials(ctx context.Context, limit int) ([]*models.Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Material, 0, len(r.materials))
	for id, m := range r.materials {
		if _, ok := r.balances[id]; !ok {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.balances[out[i].ID].UpdatedAt.After(r.balances[out[j].ID].UpdatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryLedgerRepository) GetWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wo, ok := r.workOrders[id]
	if !ok {
		return nil, nil
	}
	return cloneWorkOrder(wo), nil
}

func (r *MemoryLedgerRepository) GetPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.purchases[id]
	if !ok {
		return nil, nil
	}
	return clonePurchase(p), nil
}

func (r *MemoryLedgerRepository) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.workOrders {
		if existing.Number == wo.Number {
			return fmt.Errorf("work order %s: %w", wo.Number, ErrDuplicate)
		}
	}
	wo.ID = r.nextDocument()
	r.workOrders[wo.ID] = cloneWorkOrder(wo)
	return nil
}

func (r *MemoryLedgerRepository) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.purchases {
		if existing.Number == p.Number {
			return fmt.Errorf("purchase %s: %w", p.Number, ErrDuplicate)
		}
	}
	p.ID = r.nextDocument()
	for i := range p.Lines {
		p.Lines[i].ID = r.nextDocument()
		p.Lines[i].PurchaseID = p.ID
		if p.Lines[i].Position == 0 {
			p.Lines[i].Position = i + 1
		}
	}
	r.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (r *MemoryLedgerRepository) nextMovement() int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.nextMovementID++
	return r.nextMovementID
}

func (r *MemoryLedgerRepository) nextDocument() int64 {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	r.nextDocumentID++
	return r.nextDocumentID
}

// memoryTx acumula escrituras hasta el commit
type memoryTx struct {
	repo       *MemoryLedgerRepository
	held       map[string]func()
	materials  []*models.Material
	balances   map[string]*models.Balance
	movements  []*models.Movement
	workOrders map[int64]*models.WorkOrder
	purchases  map[int64]*models.Purchase
}

func (tx *memoryTx) lockRow(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	unlock, err := tx.repo.rowLocks.Lock(ctx, key)
	if err != nil {
		return err
	}
	tx.held[key] = unlock
	return nil
}

func (tx *memoryTx) releaseLocks() {
	for _, unlock := range tx.held {
		unlock()
	}
}

func balanceKey(materialID string) string { return "balance:" + materialID }
func workOrderKey(id int64) string       { return fmt.Sprintf("work_order:%d", id) }
func purchaseKey(id int64) string        { return fmt.Sprintf("purchase:%d", id) }

func (tx *memoryTx) CreateMaterial(ctx context.Context, m *models.Material, b *models.Balance) error {
	if err := tx.lockRow(ctx, balanceKey(m.ID)); err != nil {
		return err
	}
	if _, staged := tx.balances[m.ID]; staged {
		return fmt.Errorf("material %s: %w", m.ID, ErrDuplicate)
	}

	tx.repo.mu.RLock()
	_, exists := tx.repo.materials[m.ID]
	tx.repo.mu.RUnlock()
	if exists {
		return fmt.Errorf("material %s: %w", m.ID, ErrDuplicate)
	}

	now := tx.repo.now()
	m.CreatedAt = now
	b.UpdatedAt = now
	mc := *m
	tx.materials = append(tx.materials, &mc)
	tx.balances[m.ID] = b.Clone()
	return nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, materialID string) (*models.Balance, error) {
	if err := tx.lockRow(ctx, balanceKey(materialID)); err != nil {
		return nil, err
	}
	if b, ok := tx.balances[materialID]; ok {
		return b.Clone(), nil
	}
	return tx.repo.GetBalance(ctx, materialID)
}

func (tx *memoryTx) SaveBalance(ctx context.Context, b *models.Balance) error {
	if _, ok := tx.held[balanceKey(b.MaterialID)]; !ok {
		return fmt.Errorf("balance %s saved without lock", b.MaterialID)
	}
	b.Version++
	b.UpdatedAt = tx.repo.now()
	tx.balances[b.MaterialID] = b.Clone()
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m *models.Movement) error {
	tx.repo.mu.RLock()
	hook := tx.repo.insertHook
	tx.repo.mu.RUnlock()
	if hook != nil {
		if err := hook(m); err != nil {
			return fmt.Errorf("failed to insert movement: %w", err)
		}
	}

	m.ID = tx.repo.nextMovement()
	m.RecordedAt = tx.repo.now()
	c := *m
	tx.movements = append(tx.movements, &c)
	return nil
}

func (tx *memoryTx) MovementsAscending(ctx context.Context, materialID string) ([]*models.Movement, error) {
	tx.repo.mu.RLock()
	committed := tx.repo.movements[materialID]
	out := make([]*models.Movement, 0, len(committed))
	for _, m := range committed {
		c := *m
		out = append(out, &c)
	}
	tx.repo.mu.RUnlock()

	for _, m := range tx.movements {
		if m.MaterialID == materialID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) LockWorkOrder(ctx context.Context, id int64) (*models.WorkOrder, error) {
	if err := tx.lockRow(ctx, workOrderKey(id)); err != nil {
		return nil, err
	}
	if wo, ok := tx.workOrders[id]; ok {
		return cloneWorkOrder(wo), nil
	}
	return tx.repo.GetWorkOrder(ctx, id)
}

func (tx *memoryTx) SaveWorkOrder(ctx context.Context, wo *models.WorkOrder) error {
	if _, ok := tx.held[workOrderKey(wo.ID)]; !ok {
		return fmt.Errorf("work order %d saved without lock", wo.ID)
	}
	tx.workOrders[wo.ID] = cloneWorkOrder(wo)
	return nil
}

func (tx *memoryTx) LockPurchase(ctx context.Context, id int64) (*models.Purchase, error) {
	if err := tx.lockRow(ctx, purchaseKey(id)); err != nil {
		return nil, err
	}
	if p, ok := tx.purchases[id]; ok {
		return clonePurchase(p), nil
	}
	return tx.repo.GetPurchase(ctx, id)
}

func (tx *memoryTx) SavePurchaseStatus(ctx context.Context, p *models.Purchase) error {
	if _, ok := tx.held[purchaseKey(p.ID)]; !ok {
		return fmt.Errorf("purchase %d saved without lock", p.ID)
	}
	current, err := tx.LockPurchase(ctx, p.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("purchase %d not found", p.ID)
	}
	current.Status = p.Status
	current.ReceivedAt = p.ReceivedAt
	tx.purchases[p.ID] = current
	return nil
}

func sortMovementsDesc(ms []*models.Movement) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].RecordedAt.Equal(ms[j].RecordedAt) {
			return ms[i].RecordedAt.After(ms[j].RecordedAt)
		}
		return ms[i].ID > ms[j].ID
	})
}

func cloneWorkOrder(wo *models.WorkOrder) *models.WorkOrder {
	c := *wo
	if wo.CompletedAt != nil {
		t := *wo.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func clonePurchase(p *models.Purchase) *models.Purchase {
	c := *p
	if p.ReceivedAt != nil {
		t := *p.ReceivedAt
		c.ReceivedAt = &t
	}
	c.Lines = make([]models.PurchaseLine, len(p.Lines))
	copy(c.Lines, p.Lines)
	return &c
}
