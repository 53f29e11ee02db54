package models

import (
	"time"

	"github.com/google/uuid"
)

// StockLevel holds the per (product, warehouse) counters. Available and
// Reserved never go negative; mutation happens only through the ledger
// repository operations.
type StockLevel struct {
	ID           uint64    `json:"id"`
	ProductID    uuid.UUID `json:"product_id"`
	WarehouseID  uuid.UUID `json:"warehouse_id"`
	Available    int64     `json:"available"`
	Reserved     int64     `json:"reserved"`
	OnOrder      int64     `json:"on_order"`
	ReorderLevel int64     `json:"reorder_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LowStock reports whether available stock has dropped below the reorder
// level. A zero reorder level disables the alert.
func (s *StockLevel) LowStock() bool {
	return s.ReorderLevel > 0 && s.Available < s.ReorderLevel
}
