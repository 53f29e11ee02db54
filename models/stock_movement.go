package models

import (
	"time"

	"github.com/google/uuid"

	"gofalre.io/inventory/models/enum"
)

// StockMovement is an append-only ledger entry recording a physical stock
// change. Releases are not movements; only fulfillment, inbound receipts
// and manual adjustments write here.
type StockMovement struct {
	ID              uint64            `json:"id"`
	ProductID       uuid.UUID         `json:"product_id"`
	WarehouseID     uuid.UUID         `json:"warehouse_id"`
	QuantityChange  int64             `json:"quantity_change"`
	Type            enum.MovementType `json:"type"`
	Reference       string            `json:"reference,omitempty"`
	TransactionDate time.Time         `json:"transaction_date"`
}
