package models

import (
	"time"

	"github.com/google/uuid"

	"gofalre.io/inventory/models/enum"
)

// Reservation is a time-bounded hold of available stock for an order line.
// Quantity is fixed at creation; status moves Active -> Fulfilled/Released/
// Expired exactly once and the record is never hard-deleted.
type Reservation struct {
	ID            uuid.UUID              `json:"id"`
	ProductID     uuid.UUID              `json:"product_id"`
	WarehouseID   uuid.UUID              `json:"warehouse_id"`
	OrderID       uuid.UUID              `json:"order_id"`
	OrderLineID   *uuid.UUID             `json:"order_line_id,omitempty"`
	Quantity      int64                  `json:"quantity"`
	ReservedUntil time.Time              `json:"reserved_until"`
	Status        enum.ReservationStatus `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// ExpiredAt reports whether the reservation deadline has passed at now.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return now.After(r.ReservedUntil)
}
