// Package inventory orchestrates the reservation lifecycle on top of the
// stock ledger. Reservations are created Active and finish in exactly one
// of Fulfilled, Released or Expired; every finishing path returns the
// reserved quantity to the ledger or converts it into an outbound movement.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gofalre.io/inventory/event"
	"gofalre.io/inventory/ledger"
	"gofalre.io/inventory/models"
	"gofalre.io/inventory/models/enum"
	"gofalre.io/inventory/reservation"
)

// DefaultReservationTTL is applied when a reservation request carries no
// explicit hold duration.
const DefaultReservationTTL = 24 * time.Hour

var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

type CreateReservationRequest struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	OrderID     uuid.UUID
	OrderLineID *uuid.UUID
	Quantity    int64
	TTL         time.Duration
}

type TransferStockRequest struct {
	ProductID       uuid.UUID
	FromWarehouseID uuid.UUID
	ToWarehouseID   uuid.UUID
	Quantity        int64
	Reason          string
}

type AdjustStockRequest struct {
	ProductID      uuid.UUID
	WarehouseID    uuid.UUID
	QuantityChange int64
	Reason         string
	Reference      string
}

type Service interface {
	CreateReservation(ctx context.Context, req CreateReservationRequest) (*models.Reservation, error)
	FulfillReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ReleaseReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ExpireReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID) error
	GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
	TransferStock(ctx context.Context, req TransferStockRequest) error
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*models.StockLevel, error)
	GetStockLevel(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockLevel, error)
	ListStockMovements(ctx context.Context, productID, warehouseID uuid.UUID, limit, offset uint64) ([]*models.StockMovement, error)
	Shutdown()
}

type service struct {
	ledger       ledger.Repository
	reservations reservation.Repository
	events       event.Repository
	publisher    EventPublisher
	eventManager *EventManager
	workerPool   *WorkerPool
	logger       *zap.Logger
	defaultTTL   time.Duration
}

// NewService wires the lifecycle service. natsConn may be nil, in which
// case no bus subscription is established and publishing is left to the
// injected publisher.
func NewService(
	ledgerRepo ledger.Repository,
	reservations reservation.Repository,
	events event.Repository,
	publisher EventPublisher,
	natsConn *nats.Conn,
	defaultTTL time.Duration,
	logger *zap.Logger,
) (Service, error) {
	if defaultTTL <= 0 {
		defaultTTL = DefaultReservationTTL
	}

	s := &service{
		ledger:       ledgerRepo,
		reservations: reservations,
		events:       events,
		publisher:    publisher,
		logger:       logger,
		defaultTTL:   defaultTTL,
	}

	if natsConn != nil {
		s.eventManager = NewEventManager(natsConn, logger)
		s.workerPool = NewWorkerPool(10, s, logger)
		s.registerMessageHandlers()
		if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
			return nil, fmt.Errorf("failed to subscribe to events: %w", err)
		}
	}

	return s, nil
}

func (s *service) Shutdown() {
	if s.eventManager != nil {
		s.eventManager.Stop()
	}
	if s.workerPool != nil {
		s.workerPool.Shutdown()
	}
}

// CreateReservation holds stock for an order line. The ledger reserve and
// the reservation row are written in that order; if the row cannot be
// persisted the hold is returned to the ledger.
func (s *service) CreateReservation(ctx context.Context, req CreateReservationRequest) (*models.Reservation, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	level, err := s.ledger.TryReserve(ctx, ledger.ReserveParams{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := &models.Reservation{
		ID:            uuid.New(),
		ProductID:     req.ProductID,
		WarehouseID:   req.WarehouseID,
		OrderID:       req.OrderID,
		OrderLineID:   req.OrderLineID,
		Quantity:      req.Quantity,
		ReservedUntil: now.Add(ttl),
		Status:        enum.ReservationStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err = s.reservations.Create(ctx, res); err != nil {
		if _, releaseErr := s.ledger.Release(ctx, ledger.ReleaseParams{
			ProductID:   req.ProductID,
			WarehouseID: req.WarehouseID,
			Quantity:    req.Quantity,
		}); releaseErr != nil {
			s.logger.Error("Failed to return stock after reservation create failure",
				zap.String("product_id", req.ProductID.String()),
				zap.Error(releaseErr))
		}
		return nil, fmt.Errorf("failed to persist reservation: %w", err)
	}

	s.publish(ctx, TopicStockReserved, StockReservedEvent{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		WarehouseID:   res.WarehouseID,
		OrderID:       res.OrderID,
		Quantity:      res.Quantity,
	})
	s.alertIfLow(ctx, level)

	s.logger.Info("Reservation created",
		zap.String("reservation_id", res.ID.String()),
		zap.String("order_id", res.OrderID.String()),
		zap.Int64("quantity", res.Quantity))
	return res, nil
}

// FulfillReservation converts an active hold into an outbound movement.
// Calling it again for an already finished reservation is a no-op that
// returns the stored row.
func (s *service) FulfillReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	res, won, err := s.finish(ctx, id, enum.ReservationStatusFulfilled)
	if err != nil || !won {
		return res, err
	}

	if _, err = s.ledger.Fulfill(ctx, ledger.FulfillParams{
		ProductID:   res.ProductID,
		WarehouseID: res.WarehouseID,
		Quantity:    res.Quantity,
		Reference:   "ORDER-" + res.OrderID.String(),
	}); err != nil {
		s.logger.Error("Failed to apply fulfillment to ledger",
			zap.String("reservation_id", id.String()),
			zap.Error(err))
		s.reactivate(ctx, id, enum.ReservationStatusFulfilled)
		return nil, err
	}

	s.publish(ctx, TopicStockUpdated, StockUpdatedEvent{
		ProductID:      res.ProductID,
		WarehouseID:    res.WarehouseID,
		QuantityChange: -res.Quantity,
		MovementType:   string(enum.MovementTypeOutbound),
	})

	s.logger.Info("Reservation fulfilled", zap.String("reservation_id", id.String()))
	return res, nil
}

// ReleaseReservation cancels an active hold and returns the quantity to
// available stock. Finished reservations are returned unchanged.
func (s *service) ReleaseReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return s.release(ctx, id, enum.ReservationStatusReleased)
}

// ExpireReservation finishes a hold whose deadline has passed. It shares
// the release path but records the Expired status.
func (s *service) ExpireReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return s.release(ctx, id, enum.ReservationStatusExpired)
}

func (s *service) release(ctx context.Context, id uuid.UUID, to enum.ReservationStatus) (*models.Reservation, error) {
	res, won, err := s.finish(ctx, id, to)
	if err != nil || !won {
		return res, err
	}

	if _, err = s.ledger.Release(ctx, ledger.ReleaseParams{
		ProductID:   res.ProductID,
		WarehouseID: res.WarehouseID,
		Quantity:    res.Quantity,
	}); err != nil {
		s.logger.Error("Failed to return released stock to ledger",
			zap.String("reservation_id", id.String()),
			zap.Error(err))
		s.reactivate(ctx, id, to)
		return nil, err
	}

	s.publish(ctx, TopicStockReleased, StockReleasedEvent{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		WarehouseID:   res.WarehouseID,
		Quantity:      res.Quantity,
	})

	s.logger.Info("Reservation released",
		zap.String("reservation_id", id.String()),
		zap.String("status", string(to)))
	return res, nil
}

// reactivate undoes a won transition whose ledger effect failed. The row
// goes back to active so a later retry, or the sweeper, can finish it.
func (s *service) reactivate(ctx context.Context, id uuid.UUID, from enum.ReservationStatus) {
	if err := s.reservations.Reactivate(ctx, id, from); err != nil {
		s.logger.Error("Failed to reactivate reservation after ledger failure",
			zap.String("reservation_id", id.String()),
			zap.Error(err))
	}
}

// finish moves a reservation into a terminal status. The compare-and-set
// on the repository guarantees at most one caller wins; losers receive
// the row as it stands and won=false.
func (s *service) finish(ctx context.Context, id uuid.UUID, to enum.ReservationStatus) (*models.Reservation, bool, error) {
	res, err := s.reservations.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if res.Status.Terminal() {
		s.logger.Info("Reservation already finished",
			zap.String("reservation_id", id.String()),
			zap.String("status", string(res.Status)))
		return res, false, nil
	}

	won, err := s.reservations.Transition(ctx, id, to)
	if err != nil {
		return nil, false, err
	}
	if !won {
		res, err = s.reservations.Get(ctx, id)
		return res, false, err
	}

	res.Status = to
	res.UpdatedAt = time.Now().UTC()
	return res, true, nil
}

// ReleaseOrderReservations releases every active reservation held for an
// order, typically on order cancellation. A failure on one reservation
// does not stop the rest.
func (s *service) ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID) error {
	reservations, err := s.reservations.ListByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to list reservations for order %s: %w", orderID, err)
	}

	var errs []error
	for _, res := range reservations {
		if res.Status.Terminal() {
			continue
		}
		if _, err = s.ReleaseReservation(ctx, res.ID); err != nil {
			s.logger.Error("Failed to release reservation for order",
				zap.String("order_id", orderID.String()),
				zap.String("reservation_id", res.ID.String()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *service) GetReservation(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return s.reservations.Get(ctx, id)
}

func (s *service) TransferStock(ctx context.Context, req TransferStockRequest) error {
	if req.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	if err := s.ledger.Transfer(ctx, ledger.TransferParams{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
	}); err != nil {
		return err
	}

	s.publish(ctx, TopicStockTransferred, StockTransferredEvent{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
	})

	s.logger.Info("Stock transferred",
		zap.String("product_id", req.ProductID.String()),
		zap.Int64("quantity", req.Quantity))
	return nil
}

func (s *service) AdjustStock(ctx context.Context, req AdjustStockRequest) (*models.StockLevel, error) {
	level, err := s.ledger.Adjust(ctx, ledger.AdjustParams{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		QuantityChange: req.QuantityChange,
		Reference:      req.Reference,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, TopicStockAdjusted, StockAdjustedEvent{
		ProductID:      req.ProductID,
		WarehouseID:    req.WarehouseID,
		QuantityChange: req.QuantityChange,
		Reason:         req.Reason,
		Reference:      req.Reference,
	})
	s.alertIfLow(ctx, level)

	s.logger.Info("Stock adjusted",
		zap.String("product_id", req.ProductID.String()),
		zap.Int64("quantity_change", req.QuantityChange))
	return level, nil
}

func (s *service) GetStockLevel(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockLevel, error) {
	return s.ledger.GetStockLevel(ctx, productID, warehouseID)
}

func (s *service) ListStockMovements(ctx context.Context, productID, warehouseID uuid.UUID, limit, offset uint64) ([]*models.StockMovement, error) {
	return s.ledger.ListMovements(ctx, productID, warehouseID, limit, offset)
}

// publish sends an event and logs on failure. Committed ledger state is
// never rolled back because a broker write failed.
func (s *service) publish(ctx context.Context, topic string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Error("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *service) alertIfLow(ctx context.Context, level *models.StockLevel) {
	if level == nil || !level.LowStock() {
		return
	}
	s.publish(ctx, TopicLowStockAlert, LowStockAlertEvent{
		ProductID:    level.ProductID,
		WarehouseID:  level.WarehouseID,
		Available:    level.Available,
		ReorderLevel: level.ReorderLevel,
	})
	s.logger.Warn("Stock below reorder level",
		zap.String("product_id", level.ProductID.String()),
		zap.Int64("available", level.Available),
		zap.Int64("reorder_level", level.ReorderLevel))
}
