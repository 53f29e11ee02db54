package ledger

import "github.com/google/uuid"

type ReserveParams struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int64
}

type FulfillParams struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int64
	Reference   string
}

type ReleaseParams struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int64
}

type InboundParams struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int64
	Reference   string
}

type OnOrderParams struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Quantity    int64
}

type AdjustParams struct {
	ProductID      uuid.UUID
	WarehouseID    uuid.UUID
	QuantityChange int64
	Reference      string
}

type TransferParams struct {
	ProductID       uuid.UUID
	FromWarehouseID uuid.UUID
	ToWarehouseID   uuid.UUID
	Quantity        int64
}
