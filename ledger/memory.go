package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gofalre.io/inventory/models"
	"gofalre.io/inventory/models/enum"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs unit
// tests and single-process deployments that do not need durability; the
// semantics match the Postgres implementation.
type MemoryRepository struct {
	mu        sync.Mutex
	levels    map[string]*models.StockLevel
	movements []*models.StockMovement
	nextID    uint64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		levels: make(map[string]*models.StockLevel),
	}
}

func memoryKey(productID, warehouseID uuid.UUID) string {
	return productID.String() + "/" + warehouseID.String()
}

// SetStock seeds the available quantity for a pair, creating the level if
// needed. Intended for tests and bootstrapping.
func (r *MemoryRepository) SetStock(productID, warehouseID uuid.UUID, available int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level := r.level(productID, warehouseID)
	level.Available = available
}

// SetReorderLevel seeds the low-stock threshold for a pair.
func (r *MemoryRepository) SetReorderLevel(productID, warehouseID uuid.UUID, reorderLevel int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level := r.level(productID, warehouseID)
	level.ReorderLevel = reorderLevel
}

// level returns the stock level for the pair, creating it lazily. Callers
// must hold the mutex.
func (r *MemoryRepository) level(productID, warehouseID uuid.UUID) *models.StockLevel {
	key := memoryKey(productID, warehouseID)
	if level, ok := r.levels[key]; ok {
		return level
	}
	r.nextID++
	level := &models.StockLevel{
		ID:          r.nextID,
		ProductID:   productID,
		WarehouseID: warehouseID,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	r.levels[key] = level
	return level
}

func (r *MemoryRepository) record(level *models.StockLevel, change int64, movementType enum.MovementType, reference string) {
	level.UpdatedAt = time.Now().UTC()
	r.movements = append(r.movements, &models.StockMovement{
		ID:              uint64(len(r.movements) + 1),
		ProductID:       level.ProductID,
		WarehouseID:     level.WarehouseID,
		QuantityChange:  change,
		Type:            movementType,
		Reference:       reference,
		TransactionDate: time.Now().UTC(),
	})
}

func (r *MemoryRepository) GetStockLevel(_ context.Context, productID, warehouseID uuid.UUID) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.levels[memoryKey(productID, warehouseID)]
	if !ok {
		return nil, ErrStockLevelNotFound
	}
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) TryReserve(_ context.Context, params ReserveParams) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.level(params.ProductID, params.WarehouseID)
	if level.Available < params.Quantity {
		return nil, fmt.Errorf("%w: product %s warehouse %s requested %d available %d",
			ErrInsufficientStock, params.ProductID, params.WarehouseID, params.Quantity, level.Available)
	}

	level.Available -= params.Quantity
	level.Reserved += params.Quantity
	level.UpdatedAt = time.Now().UTC()
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) Fulfill(_ context.Context, params FulfillParams) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.level(params.ProductID, params.WarehouseID)
	level.Reserved = max(level.Reserved-params.Quantity, 0)
	r.record(level, -params.Quantity, enum.MovementTypeOutbound, params.Reference)
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) Release(_ context.Context, params ReleaseParams) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.level(params.ProductID, params.WarehouseID)
	level.Reserved = max(level.Reserved-params.Quantity, 0)
	level.Available += params.Quantity
	level.UpdatedAt = time.Now().UTC()
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) ReceiveInbound(_ context.Context, params InboundParams) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.level(params.ProductID, params.WarehouseID)
	level.Available += params.Quantity
	level.OnOrder = max(level.OnOrder-params.Quantity, 0)
	r.record(level, params.Quantity, enum.MovementTypeInbound, params.Reference)
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) MarkOnOrder(_ context.Context, params OnOrderParams) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.level(params.ProductID, params.WarehouseID)
	level.OnOrder += params.Quantity
	level.UpdatedAt = time.Now().UTC()
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) Adjust(_ context.Context, params AdjustParams) (*models.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level := r.level(params.ProductID, params.WarehouseID)
	if level.Available+params.QuantityChange < 0 {
		return nil, fmt.Errorf("%w: current %d, change %d", ErrInvalidAdjustment, level.Available, params.QuantityChange)
	}

	level.Available += params.QuantityChange
	r.record(level, params.QuantityChange, enum.MovementTypeAdjustment, params.Reference)
	copied := *level
	return &copied, nil
}

func (r *MemoryRepository) Transfer(_ context.Context, params TransferParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	source := r.level(params.ProductID, params.FromWarehouseID)
	if source.Available < params.Quantity {
		return fmt.Errorf("%w: transfer of %d from warehouse %s, available %d",
			ErrInsufficientStock, params.Quantity, params.FromWarehouseID, source.Available)
	}
	dest := r.level(params.ProductID, params.ToWarehouseID)

	reference := fmt.Sprintf("TRANSFER-%s-%s", params.FromWarehouseID, params.ToWarehouseID)
	source.Available -= params.Quantity
	dest.Available += params.Quantity
	r.record(source, -params.Quantity, enum.MovementTypeOutbound, reference)
	r.record(dest, params.Quantity, enum.MovementTypeInbound, reference)
	return nil
}

func (r *MemoryRepository) ListMovements(_ context.Context, productID, warehouseID uuid.UUID, limit, offset uint64) ([]*models.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*models.StockMovement, 0)
	for _, m := range r.movements {
		if m.ProductID == productID && m.WarehouseID == warehouseID {
			copied := *m
			matched = append(matched, &copied)
		}
	}

	// Same contract as LIMIT in the SQL implementation: zero means zero
	// rows, not unbounded.
	if offset >= uint64(len(matched)) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < uint64(len(matched)) {
		matched = matched[:limit]
	}
	return matched, nil
}
