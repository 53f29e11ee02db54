// Package reservation persists reservation records and their status
// transitions. Transitions are compare-and-set updates that only accept
// rows still in the active state, which is what makes fulfillment and
// release idempotent under concurrent duplicate triggers.
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gofalre.io/inventory/driver"
	"gofalre.io/inventory/models"
	"gofalre.io/inventory/models/enum"
)

// ErrNotFound is returned when no reservation exists for the given id.
var ErrNotFound = errors.New("reservation not found")

type Repository interface {
	Create(ctx context.Context, reservation *models.Reservation) error
	Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Reservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error)

	// Transition moves the reservation from active to the given terminal
	// status. It reports false when the row was not active anymore; the
	// caller re-reads to observe which transition won.
	Transition(ctx context.Context, id uuid.UUID, to enum.ReservationStatus) (bool, error)

	// Reactivate returns the reservation to active, but only from the
	// given status. Only the transition winner may call it, to undo its
	// own transition when the ledger effect could not be applied.
	Reactivate(ctx context.Context, id uuid.UUID, from enum.ReservationStatus) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

const reservationColumns = `id, product_id, warehouse_id, order_id, order_line_id, quantity, reserved_until, status, created_at, updated_at`

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var r models.Reservation
	err := row.Scan(&r.ID, &r.ProductID, &r.WarehouseID, &r.OrderID, &r.OrderLineID, &r.Quantity, &r.ReservedUntil, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *repository) Create(ctx context.Context, reservation *models.Reservation) error {
	_, err := r.conn.Exec(ctx,
		`INSERT INTO reservations (id, product_id, warehouse_id, order_id, order_line_id, quantity, reserved_until, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		reservation.ID, reservation.ProductID, reservation.WarehouseID, reservation.OrderID,
		reservation.OrderLineID, reservation.Quantity, reservation.ReservedUntil, reservation.Status)
	if err != nil {
		r.logger.Error("failed to create reservation",
			zap.String("reservation_id", reservation.ID.String()),
			zap.Error(err))
	}
	return err
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := scanReservation(r.conn.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get reservation", zap.String("reservation_id", id.String()), zap.Error(err))
		return nil, err
	}
	return reservation, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Reservation, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = $1`, orderID)
	if err != nil {
		r.logger.Error("failed to list reservations by order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

// ListExpired relies on the (status, reserved_until) index; the sweeper
// calls it every cycle.
func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Reservation, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = $1 AND reserved_until < $2
		 ORDER BY reserved_until
		 LIMIT $3`,
		enum.ReservationStatusActive, now, limit)
	if err != nil {
		r.logger.Error("failed to list expired reservations", zap.Error(err))
		return nil, err
	}
	defer rows.Close()
	return collectReservations(rows)
}

func collectReservations(rows pgx.Rows) ([]*models.Reservation, error) {
	reservations := make([]*models.Reservation, 0)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, rows.Err()
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, to enum.ReservationStatus) (bool, error) {
	tag, err := r.conn.Exec(ctx,
		`UPDATE reservations SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, to, enum.ReservationStatusActive)
	if err != nil {
		r.logger.Error("failed to transition reservation",
			zap.String("reservation_id", id.String()),
			zap.String("to", string(to)),
			zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repository) Reactivate(ctx context.Context, id uuid.UUID, from enum.ReservationStatus) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE reservations SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, enum.ReservationStatusActive, from)
	if err != nil {
		r.logger.Error("failed to reactivate reservation",
			zap.String("reservation_id", id.String()),
			zap.String("from", string(from)),
			zap.Error(err))
	}
	return err
}
