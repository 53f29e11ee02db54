// Package ledger owns the per (product, warehouse) stock counters and the
// append-only movement log. Every mutation serializes on the stock row, so
// two reservations racing for the last units can never both win.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gofalre.io/inventory/driver"
	"gofalre.io/inventory/models"
	"gofalre.io/inventory/models/enum"
)

var (
	// ErrInsufficientStock is returned by TryReserve and Transfer when the
	// available quantity cannot cover the request. No counters change.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrStockLevelNotFound is returned by reads for a (product, warehouse)
	// pair that has never been referenced.
	ErrStockLevelNotFound = errors.New("stock level not found")

	// ErrInvalidAdjustment is returned when a manual adjustment would drive
	// available below zero.
	ErrInvalidAdjustment = errors.New("adjustment would result in negative stock")
)

type Repository interface {
	GetStockLevel(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockLevel, error)
	TryReserve(ctx context.Context, params ReserveParams) (*models.StockLevel, error)
	Fulfill(ctx context.Context, params FulfillParams) (*models.StockLevel, error)
	Release(ctx context.Context, params ReleaseParams) (*models.StockLevel, error)
	ReceiveInbound(ctx context.Context, params InboundParams) (*models.StockLevel, error)
	MarkOnOrder(ctx context.Context, params OnOrderParams) (*models.StockLevel, error)
	Adjust(ctx context.Context, params AdjustParams) (*models.StockLevel, error)
	Transfer(ctx context.Context, params TransferParams) error
	ListMovements(ctx context.Context, productID, warehouseID uuid.UUID, limit, offset uint64) ([]*models.StockMovement, error)
}

type repository struct {
	conn   driver.PostgresPool
	tm     *driver.TransactionManager
	cache  *Cache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, tm *driver.TransactionManager, cache *Cache, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		tm:     tm,
		cache:  cache,
		logger: logger,
	}
}

const stockLevelColumns = `id, product_id, warehouse_id, available, reserved, on_order, reorder_level, created_at, updated_at`

func scanStockLevel(row pgx.Row) (*models.StockLevel, error) {
	var s models.StockLevel
	err := row.Scan(&s.ID, &s.ProductID, &s.WarehouseID, &s.Available, &s.Reserved, &s.OnOrder, &s.ReorderLevel, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repository) GetStockLevel(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockLevel, error) {
	if stock, found := r.cache.get(ctx, productID, warehouseID); found {
		return stock, nil
	}

	stock, err := scanStockLevel(r.conn.QueryRow(ctx,
		`SELECT `+stockLevelColumns+` FROM stock_levels WHERE product_id = $1 AND warehouse_id = $2`,
		productID, warehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStockLevelNotFound
	}
	if err != nil {
		r.logger.Error("failed to get stock level",
			zap.String("product_id", productID.String()),
			zap.String("warehouse_id", warehouseID.String()),
			zap.Error(err))
		return nil, err
	}

	r.cache.set(ctx, stock)
	return stock, nil
}

// lockStockLevel loads the stock row FOR UPDATE, creating it lazily on the
// first reference to a (product, warehouse) pair.
func (r *repository) lockStockLevel(ctx context.Context, tx pgx.Tx, productID, warehouseID uuid.UUID) (*models.StockLevel, error) {
	stock, err := scanStockLevel(tx.QueryRow(ctx,
		`SELECT `+stockLevelColumns+` FROM stock_levels WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE`,
		productID, warehouseID))
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO stock_levels (product_id, warehouse_id, available, reserved, on_order, reorder_level, created_at, updated_at)
		 VALUES ($1, $2, 0, 0, 0, 0, now(), now())
		 ON CONFLICT (product_id, warehouse_id) DO NOTHING`,
		productID, warehouseID); err != nil {
		return nil, err
	}

	return scanStockLevel(tx.QueryRow(ctx,
		`SELECT `+stockLevelColumns+` FROM stock_levels WHERE product_id = $1 AND warehouse_id = $2 FOR UPDATE`,
		productID, warehouseID))
}

func (r *repository) updateCounters(ctx context.Context, tx pgx.Tx, stock *models.StockLevel) (*models.StockLevel, error) {
	return scanStockLevel(tx.QueryRow(ctx,
		`UPDATE stock_levels
		 SET available = $1, reserved = $2, on_order = $3, updated_at = now()
		 WHERE id = $4
		 RETURNING `+stockLevelColumns,
		stock.Available, stock.Reserved, stock.OnOrder, stock.ID))
}

func (r *repository) insertMovement(ctx context.Context, tx pgx.Tx, m *models.StockMovement) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO stock_movements (product_id, warehouse_id, quantity_change, type, reference, transaction_date)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ProductID, m.WarehouseID, m.QuantityChange, m.Type, m.Reference, m.TransactionDate)
	return err
}

func (r *repository) TryReserve(ctx context.Context, params ReserveParams) (*models.StockLevel, error) {
	var updated *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		stock, err := r.lockStockLevel(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}

		if stock.Available < params.Quantity {
			return fmt.Errorf("%w: product %s warehouse %s requested %d available %d",
				ErrInsufficientStock, params.ProductID, params.WarehouseID, params.Quantity, stock.Available)
		}

		stock.Available -= params.Quantity
		stock.Reserved += params.Quantity
		updated, err = r.updateCounters(ctx, tx, stock)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, updated)
	return updated, nil
}

func (r *repository) Fulfill(ctx context.Context, params FulfillParams) (*models.StockLevel, error) {
	var updated *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		stock, err := r.lockStockLevel(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}

		// Floored at zero: a double fulfillment racing a partial release
		// must not drive reserved negative.
		stock.Reserved = max(stock.Reserved-params.Quantity, 0)
		if updated, err = r.updateCounters(ctx, tx, stock); err != nil {
			return err
		}

		return r.insertMovement(ctx, tx, &models.StockMovement{
			ProductID:       params.ProductID,
			WarehouseID:     params.WarehouseID,
			QuantityChange:  -params.Quantity,
			Type:            enum.MovementTypeOutbound,
			Reference:       params.Reference,
			TransactionDate: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, updated)
	return updated, nil
}

func (r *repository) Release(ctx context.Context, params ReleaseParams) (*models.StockLevel, error) {
	var updated *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		stock, err := r.lockStockLevel(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}

		// A release is an un-hold, not a physical movement, so no
		// stock_movements row is written.
		stock.Reserved = max(stock.Reserved-params.Quantity, 0)
		stock.Available += params.Quantity
		updated, err = r.updateCounters(ctx, tx, stock)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, updated)
	return updated, nil
}

func (r *repository) ReceiveInbound(ctx context.Context, params InboundParams) (*models.StockLevel, error) {
	var updated *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		stock, err := r.lockStockLevel(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}

		stock.Available += params.Quantity
		stock.OnOrder = max(stock.OnOrder-params.Quantity, 0)
		if updated, err = r.updateCounters(ctx, tx, stock); err != nil {
			return err
		}

		return r.insertMovement(ctx, tx, &models.StockMovement{
			ProductID:       params.ProductID,
			WarehouseID:     params.WarehouseID,
			QuantityChange:  params.Quantity,
			Type:            enum.MovementTypeInbound,
			Reference:       params.Reference,
			TransactionDate: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, updated)
	return updated, nil
}

func (r *repository) MarkOnOrder(ctx context.Context, params OnOrderParams) (*models.StockLevel, error) {
	var updated *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		stock, err := r.lockStockLevel(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}

		stock.OnOrder += params.Quantity
		updated, err = r.updateCounters(ctx, tx, stock)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, updated)
	return updated, nil
}

func (r *repository) Adjust(ctx context.Context, params AdjustParams) (*models.StockLevel, error) {
	var updated *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		stock, err := r.lockStockLevel(ctx, tx, params.ProductID, params.WarehouseID)
		if err != nil {
			return err
		}

		if stock.Available+params.QuantityChange < 0 {
			return fmt.Errorf("%w: current %d, change %d", ErrInvalidAdjustment, stock.Available, params.QuantityChange)
		}

		stock.Available += params.QuantityChange
		if updated, err = r.updateCounters(ctx, tx, stock); err != nil {
			return err
		}

		return r.insertMovement(ctx, tx, &models.StockMovement{
			ProductID:       params.ProductID,
			WarehouseID:     params.WarehouseID,
			QuantityChange:  params.QuantityChange,
			Type:            enum.MovementTypeAdjustment,
			Reference:       params.Reference,
			TransactionDate: time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	r.cache.set(ctx, updated)
	return updated, nil
}

func (r *repository) Transfer(ctx context.Context, params TransferParams) error {
	reference := fmt.Sprintf("TRANSFER-%s-%s", params.FromWarehouseID, params.ToWarehouseID)

	var source, dest *models.StockLevel
	err := r.tm.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// Lock both rows in a fixed order so two opposing transfers cannot
		// deadlock each other.
		first, second := params.FromWarehouseID, params.ToWarehouseID
		swapped := first.String() > second.String()
		if swapped {
			first, second = second, first
		}

		firstStock, err := r.lockStockLevel(ctx, tx, params.ProductID, first)
		if err != nil {
			return err
		}
		secondStock, err := r.lockStockLevel(ctx, tx, params.ProductID, second)
		if err != nil {
			return err
		}

		source, dest = firstStock, secondStock
		if swapped {
			source, dest = secondStock, firstStock
		}

		if source.Available < params.Quantity {
			return fmt.Errorf("%w: transfer of %d from warehouse %s, available %d",
				ErrInsufficientStock, params.Quantity, params.FromWarehouseID, source.Available)
		}

		source.Available -= params.Quantity
		dest.Available += params.Quantity

		if source, err = r.updateCounters(ctx, tx, source); err != nil {
			return err
		}
		if dest, err = r.updateCounters(ctx, tx, dest); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err = r.insertMovement(ctx, tx, &models.StockMovement{
			ProductID:       params.ProductID,
			WarehouseID:     params.FromWarehouseID,
			QuantityChange:  -params.Quantity,
			Type:            enum.MovementTypeOutbound,
			Reference:       reference,
			TransactionDate: now,
		}); err != nil {
			return err
		}
		return r.insertMovement(ctx, tx, &models.StockMovement{
			ProductID:       params.ProductID,
			WarehouseID:     params.ToWarehouseID,
			QuantityChange:  params.Quantity,
			Type:            enum.MovementTypeInbound,
			Reference:       reference,
			TransactionDate: now,
		})
	})
	if err != nil {
		return err
	}

	r.cache.set(ctx, source)
	r.cache.set(ctx, dest)
	return nil
}

func (r *repository) ListMovements(ctx context.Context, productID, warehouseID uuid.UUID, limit, offset uint64) ([]*models.StockMovement, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT id, product_id, warehouse_id, quantity_change, type, reference, transaction_date
		 FROM stock_movements
		 WHERE product_id = $1 AND warehouse_id = $2
		 ORDER BY transaction_date DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		productID, warehouseID, limit, offset)
	if err != nil {
		r.logger.Error("failed to list stock movements", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	movements := make([]*models.StockMovement, 0)
	for rows.Next() {
		var m models.StockMovement
		if err = rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.QuantityChange, &m.Type, &m.Reference, &m.TransactionDate); err != nil {
			return nil, err
		}
		movements = append(movements, &m)
	}
	return movements, rows.Err()
}
