package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gofalre.io/inventory/event"
	"gofalre.io/inventory/ledger"
	"gofalre.io/inventory/models"
)

// Topics published by this service.
const (
	TopicStockReserved    = "inventory.stock.reserved"
	TopicStockReleased    = "inventory.stock.released"
	TopicStockUpdated     = "inventory.stock.updated"
	TopicStockAdjusted    = "inventory.stock.adjusted"
	TopicStockTransferred = "inventory.stock.transferred"
	TopicLowStockAlert    = "inventory.stock.low"
)

// Topics consumed from the purchasing service.
const (
	TopicPurchaseOrderPlaced   = "purchasing.order.placed"
	TopicPurchaseOrderReceived = "purchasing.order.received"
)

type StockReservedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ProductID     uuid.UUID `json:"product_id"`
	WarehouseID   uuid.UUID `json:"warehouse_id"`
	OrderID       uuid.UUID `json:"order_id"`
	Quantity      int64     `json:"quantity"`
}

type StockReleasedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	ProductID     uuid.UUID `json:"product_id"`
	WarehouseID   uuid.UUID `json:"warehouse_id"`
	Quantity      int64     `json:"quantity"`
}

type StockUpdatedEvent struct {
	ProductID      uuid.UUID `json:"product_id"`
	WarehouseID    uuid.UUID `json:"warehouse_id"`
	QuantityChange int64     `json:"quantity_change"`
	MovementType   string    `json:"movement_type"`
}

type StockAdjustedEvent struct {
	ProductID      uuid.UUID `json:"product_id"`
	WarehouseID    uuid.UUID `json:"warehouse_id"`
	QuantityChange int64     `json:"quantity_change"`
	Reason         string    `json:"reason,omitempty"`
	Reference      string    `json:"reference,omitempty"`
}

type StockTransferredEvent struct {
	ProductID       uuid.UUID `json:"product_id"`
	FromWarehouseID uuid.UUID `json:"from_warehouse_id"`
	ToWarehouseID   uuid.UUID `json:"to_warehouse_id"`
	Quantity        int64     `json:"quantity"`
	Reason          string    `json:"reason,omitempty"`
}

type LowStockAlertEvent struct {
	ProductID    uuid.UUID `json:"product_id"`
	WarehouseID  uuid.UUID `json:"warehouse_id"`
	Available    int64     `json:"available"`
	ReorderLevel int64     `json:"reorder_level"`
}

type PurchaseOrderPlacedEvent struct {
	ProductID   uuid.UUID `json:"product_id"`
	WarehouseID uuid.UUID `json:"warehouse_id"`
	Quantity    int64     `json:"quantity"`
}

type PurchaseOrderReceivedEvent struct {
	ProductID       uuid.UUID `json:"product_id"`
	WarehouseID     uuid.UUID `json:"warehouse_id"`
	Quantity        int64     `json:"quantity"`
	ReferenceNumber string    `json:"reference_number,omitempty"`
}

// EventPublisher delivers domain events with at-least-once semantics.
// Consumers are expected to deduplicate; a publish failure never rolls
// back ledger state that has already committed.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type natsPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSPublisher(conn *nats.Conn, logger *zap.Logger) EventPublisher {
	return &natsPublisher{conn: conn, logger: logger}
}

func (p *natsPublisher) Publish(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for %s: %w", topic, err)
	}
	if err = p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Message is the bus envelope for inbound events.
type Message struct {
	ID    string          `json:"id"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type MessageHandler func(context.Context, *Message) error

type EventManager struct {
	natsConn *nats.Conn
	handlers map[string]MessageHandler
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[string]MessageHandler),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop cancels the context handed to in-flight message handlers.
func (em *EventManager) Stop() {
	em.cancel()
}

func (em *EventManager) RegisterHandler(topic string, handler MessageHandler) {
	em.handlers[topic] = handler
}

func (em *EventManager) GetHandler(topic string) (MessageHandler, bool) {
	handler, exists := em.handlers[topic]
	return handler, exists
}

func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	_, err := em.natsConn.Subscribe("purchasing.order.>", func(msg *nats.Msg) {
		var message Message
		if err := json.Unmarshal(msg.Data, &message); err != nil {
			em.logger.Error("Failed to unmarshal message", zap.Error(err))
			return
		}
		if message.Topic == "" {
			message.Topic = msg.Subject
		}

		wp.Submit(em.ctx, &message)
	})

	return err
}

func (s *service) registerMessageHandlers() {
	messageHandlers := map[string]MessageHandler{
		TopicPurchaseOrderPlaced:   s.handlePurchaseOrderPlaced,
		TopicPurchaseOrderReceived: s.handlePurchaseOrderReceived,
	}

	for topic, handler := range messageHandlers {
		s.eventManager.RegisterHandler(topic, handler)
	}
}

// handlePurchaseOrderPlaced marks the ordered quantity as expected inbound
// stock for the pair.
func (s *service) handlePurchaseOrderPlaced(ctx context.Context, msg *Message) error {
	var payload PurchaseOrderPlacedEvent
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.logger.Error("Failed to unmarshal PurchaseOrderPlacedEvent", zap.Error(err))
		return err
	}

	_, err := s.ledger.MarkOnOrder(ctx, ledger.OnOrderParams{
		ProductID:   payload.ProductID,
		WarehouseID: payload.WarehouseID,
		Quantity:    payload.Quantity,
	})
	if err != nil {
		return fmt.Errorf("failed to mark stock on order: %w", err)
	}

	s.logger.Info("Marked stock on order",
		zap.String("product_id", payload.ProductID.String()),
		zap.Int64("quantity", payload.Quantity))
	return nil
}

// handlePurchaseOrderReceived moves expected stock into available and
// records the inbound movement.
func (s *service) handlePurchaseOrderReceived(ctx context.Context, msg *Message) error {
	var payload PurchaseOrderReceivedEvent
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.logger.Error("Failed to unmarshal PurchaseOrderReceivedEvent", zap.Error(err))
		return err
	}

	_, err := s.ledger.ReceiveInbound(ctx, ledger.InboundParams{
		ProductID:   payload.ProductID,
		WarehouseID: payload.WarehouseID,
		Quantity:    payload.Quantity,
		Reference:   payload.ReferenceNumber,
	})
	if err != nil {
		return fmt.Errorf("failed to receive inbound stock: %w", err)
	}

	s.publish(ctx, TopicStockUpdated, StockUpdatedEvent{
		ProductID:      payload.ProductID,
		WarehouseID:    payload.WarehouseID,
		QuantityChange: payload.Quantity,
		MovementType:   "inbound",
	})

	s.logger.Info("Received inbound stock",
		zap.String("product_id", payload.ProductID.String()),
		zap.Int64("quantity", payload.Quantity))
	return nil
}

// ProcessMessage runs the handler for an inbound message. Redeliveries of
// an id whose handler already completed are skipped; a recorded id whose
// handler failed earlier is run again.
func (s *service) ProcessMessage(ctx context.Context, msg *Message) error {
	existing, err := s.events.GetByID(ctx, msg.ID)
	if err == nil && existing.Processed {
		s.logger.Info("Message already processed", zap.String("message_id", msg.ID))
		return nil
	}
	if err != nil && !errors.Is(err, event.ErrNotFound) {
		return err
	}

	handler, exists := s.eventManager.GetHandler(msg.Topic)
	if !exists {
		return fmt.Errorf("no handler registered for topic: %s", msg.Topic)
	}

	if err = s.events.Create(ctx, &models.ProcessedEvent{
		ID:        msg.ID,
		Topic:     msg.Topic,
		Processed: false,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}); err != nil {
		s.logger.Error("Failed to create event record", zap.Error(err))
		return err
	}

	if err := handler(ctx, msg); err != nil {
		s.logger.Error("Failed to handle message",
			zap.String("message_id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return err
	}

	if err := s.events.MarkAsProcessed(ctx, msg.ID); err != nil {
		s.logger.Error("Failed to mark event processed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	return nil
}
