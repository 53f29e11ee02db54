package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gofalre.io/inventory/event"
	"gofalre.io/inventory/ledger"
	"gofalre.io/inventory/models"
	"gofalre.io/inventory/models/enum"
	"gofalre.io/inventory/reservation"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events map[string]int
}

func newCapturingPublisher() *capturingPublisher {
	return &capturingPublisher{events: make(map[string]int)}
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[topic]++
	return nil
}

func (p *capturingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[topic]
}

type fixture struct {
	service   Service
	ledger    *ledger.MemoryRepository
	holds     *reservation.MemoryRepository
	publisher *capturingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ledgerRepo := ledger.NewMemoryRepository()
	holds := reservation.NewMemoryRepository()
	publisher := newCapturingPublisher()

	svc, err := NewService(ledgerRepo, holds, event.NewMemoryRepository(), publisher, nil, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	return &fixture{service: svc, ledger: ledgerRepo, holds: holds, publisher: publisher}
}

func (f *fixture) stockLevel(t *testing.T, productID, warehouseID uuid.UUID) (available, reserved int64) {
	t.Helper()
	level, err := f.ledger.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	return level.Available, level.Reserved
}

func TestCreateReservationHoldsStock(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	res, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID:   productID,
		WarehouseID: warehouseID,
		OrderID:     uuid.New(),
		Quantity:    6,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	if res.Status != enum.ReservationStatusActive {
		t.Errorf("got status %s, want active", res.Status)
	}
	if res.ReservedUntil.Before(time.Now().Add(50 * time.Minute)) {
		t.Errorf("reserved_until %s earlier than expected for a 1h hold", res.ReservedUntil)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 4 || reserved != 6 {
		t.Errorf("got available=%d reserved=%d, want 4/6", available, reserved)
	}
	if f.publisher.count(TopicStockReserved) != 1 {
		t.Errorf("got %d reserved events, want 1", f.publisher.count(TopicStockReserved))
	}
}

func TestCreateReservationRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)

	for _, quantity := range []int64{0, -3} {
		_, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
			ProductID:   uuid.New(),
			WarehouseID: uuid.New(),
			OrderID:     uuid.New(),
			Quantity:    quantity,
		})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Errorf("quantity %d: got %v, want ErrInvalidQuantity", quantity, err)
		}
	}
}

func TestReservationLifecycleAgainstSharedStock(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)
	orderID := uuid.New()

	first, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: orderID, Quantity: 6,
	})
	if err != nil {
		t.Fatalf("first CreateReservation failed: %v", err)
	}

	// Only 4 available now, so a second hold for 5 must fail whole.
	_, err = f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 5,
	})
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}

	if _, err = f.service.FulfillReservation(context.Background(), first.ID); err != nil {
		t.Fatalf("FulfillReservation failed: %v", err)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 4 || reserved != 0 {
		t.Errorf("after fulfillment got available=%d reserved=%d, want 4/0", available, reserved)
	}

	// The freed ledger now covers a hold for 4.
	if _, err = f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 4,
	}); err != nil {
		t.Fatalf("reservation after fulfillment failed: %v", err)
	}
}

func TestFulfillReservationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	res, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 6,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	if _, err = f.service.FulfillReservation(context.Background(), res.ID); err != nil {
		t.Fatalf("first FulfillReservation failed: %v", err)
	}
	again, err := f.service.FulfillReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("second FulfillReservation failed: %v", err)
	}
	if again.Status != enum.ReservationStatusFulfilled {
		t.Errorf("got status %s, want fulfilled", again.Status)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 4 || reserved != 0 {
		t.Errorf("second fulfill changed counters: available=%d reserved=%d", available, reserved)
	}

	movements, err := f.ledger.ListMovements(context.Background(), productID, warehouseID, 10, 0)
	if err != nil {
		t.Fatalf("ListMovements failed: %v", err)
	}
	if len(movements) != 1 {
		t.Errorf("got %d movements after double fulfill, want 1", len(movements))
	}
}

func TestReleaseReservationRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	res, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 6,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	released, err := f.service.ReleaseReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("ReleaseReservation failed: %v", err)
	}
	if released.Status != enum.ReservationStatusReleased {
		t.Errorf("got status %s, want released", released.Status)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 10 || reserved != 0 {
		t.Errorf("got available=%d reserved=%d, want 10/0", available, reserved)
	}
	if f.publisher.count(TopicStockReleased) != 1 {
		t.Errorf("got %d released events, want 1", f.publisher.count(TopicStockReleased))
	}

	// Fulfilling after release is a no-op on the stored row.
	after, err := f.service.FulfillReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("FulfillReservation after release failed: %v", err)
	}
	if after.Status != enum.ReservationStatusReleased {
		t.Errorf("got status %s, want released", after.Status)
	}
}

func TestExpireReservationReleasesStock(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	res, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 3,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	expired, err := f.service.ExpireReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("ExpireReservation failed: %v", err)
	}
	if expired.Status != enum.ReservationStatusExpired {
		t.Errorf("got status %s, want expired", expired.Status)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 10 || reserved != 0 {
		t.Errorf("got available=%d reserved=%d, want 10/0", available, reserved)
	}
}

func TestReleaseOrderReservationsSkipsFinished(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 20)
	orderID := uuid.New()

	first, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: orderID, Quantity: 5,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	if _, err = f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: orderID, Quantity: 5,
	}); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	if _, err = f.service.FulfillReservation(context.Background(), first.ID); err != nil {
		t.Fatalf("FulfillReservation failed: %v", err)
	}

	if err = f.service.ReleaseOrderReservations(context.Background(), orderID); err != nil {
		t.Fatalf("ReleaseOrderReservations failed: %v", err)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 15 || reserved != 0 {
		t.Errorf("got available=%d reserved=%d, want 15/0", available, reserved)
	}

	stored, err := f.service.GetReservation(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if stored.Status != enum.ReservationStatusFulfilled {
		t.Errorf("fulfilled reservation was rewritten to %s", stored.Status)
	}
}

func TestLowStockAlertOnReserve(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 6)
	f.ledger.SetReorderLevel(productID, warehouseID, 5)

	if _, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 2,
	}); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	if f.publisher.count(TopicLowStockAlert) != 1 {
		t.Errorf("got %d low stock alerts, want 1", f.publisher.count(TopicLowStockAlert))
	}
}

func TestAdjustStockPublishesEvent(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	level, err := f.service.AdjustStock(context.Background(), AdjustStockRequest{
		ProductID:      productID,
		WarehouseID:    warehouseID,
		QuantityChange: -4,
		Reason:         "cycle count",
		Reference:      "AUDIT-3",
	})
	if err != nil {
		t.Fatalf("AdjustStock failed: %v", err)
	}
	if level.Available != 6 {
		t.Errorf("got available=%d, want 6", level.Available)
	}
	if f.publisher.count(TopicStockAdjusted) != 1 {
		t.Errorf("got %d adjusted events, want 1", f.publisher.count(TopicStockAdjusted))
	}
}

func TestTransferStockPublishesEvent(t *testing.T) {
	f := newFixture(t)
	productID := uuid.New()
	from, to := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, from, 10)

	if err := f.service.TransferStock(context.Background(), TransferStockRequest{
		ProductID:       productID,
		FromWarehouseID: from,
		ToWarehouseID:   to,
		Quantity:        4,
	}); err != nil {
		t.Fatalf("TransferStock failed: %v", err)
	}

	if f.publisher.count(TopicStockTransferred) != 1 {
		t.Errorf("got %d transferred events, want 1", f.publisher.count(TopicStockTransferred))
	}
}

func TestProcessMessageDeduplicatesRedeliveries(t *testing.T) {
	ledgerRepo := ledger.NewMemoryRepository()
	svc := &service{
		ledger:       ledgerRepo,
		reservations: reservation.NewMemoryRepository(),
		events:       event.NewMemoryRepository(),
		publisher:    newCapturingPublisher(),
		logger:       zap.NewNop(),
		defaultTTL:   time.Hour,
	}
	svc.eventManager = NewEventManager(nil, zap.NewNop())
	svc.registerMessageHandlers()

	productID, warehouseID := uuid.New(), uuid.New()
	payload, err := json.Marshal(PurchaseOrderPlacedEvent{
		ProductID:   productID,
		WarehouseID: warehouseID,
		Quantity:    7,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	msg := &Message{ID: "msg-1", Topic: TopicPurchaseOrderPlaced, Data: payload}
	for i := 0; i < 3; i++ {
		if err = svc.ProcessMessage(context.Background(), msg); err != nil {
			t.Fatalf("ProcessMessage attempt %d failed: %v", i+1, err)
		}
	}

	level, err := ledgerRepo.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if level.OnOrder != 7 {
		t.Errorf("got on_order=%d after redeliveries, want 7", level.OnOrder)
	}
}

func TestProcessMessageUnknownTopic(t *testing.T) {
	svc := &service{
		ledger:       ledger.NewMemoryRepository(),
		reservations: reservation.NewMemoryRepository(),
		events:       event.NewMemoryRepository(),
		logger:       zap.NewNop(),
		defaultTTL:   time.Hour,
	}
	svc.eventManager = NewEventManager(nil, zap.NewNop())
	svc.registerMessageHandlers()

	err := svc.ProcessMessage(context.Background(), &Message{ID: "msg-2", Topic: "unknown.topic"})
	if err == nil {
		t.Fatal("expected error for unregistered topic")
	}
}

type flakyLedger struct {
	*ledger.MemoryRepository
	mu           sync.Mutex
	releaseFails int
	fulfillFails int
	onOrderFails int
}

func (l *flakyLedger) Release(ctx context.Context, params ledger.ReleaseParams) (*models.StockLevel, error) {
	l.mu.Lock()
	if l.releaseFails > 0 {
		l.releaseFails--
		l.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	l.mu.Unlock()
	return l.MemoryRepository.Release(ctx, params)
}

func (l *flakyLedger) Fulfill(ctx context.Context, params ledger.FulfillParams) (*models.StockLevel, error) {
	l.mu.Lock()
	if l.fulfillFails > 0 {
		l.fulfillFails--
		l.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	l.mu.Unlock()
	return l.MemoryRepository.Fulfill(ctx, params)
}

func (l *flakyLedger) MarkOnOrder(ctx context.Context, params ledger.OnOrderParams) (*models.StockLevel, error) {
	l.mu.Lock()
	if l.onOrderFails > 0 {
		l.onOrderFails--
		l.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	l.mu.Unlock()
	return l.MemoryRepository.MarkOnOrder(ctx, params)
}

func TestReleaseRetriesAfterLedgerFailure(t *testing.T) {
	flaky := &flakyLedger{MemoryRepository: ledger.NewMemoryRepository(), releaseFails: 1}
	holds := reservation.NewMemoryRepository()
	svc, err := NewService(flaky, holds, event.NewMemoryRepository(), newCapturingPublisher(), nil, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	productID, warehouseID := uuid.New(), uuid.New()
	flaky.SetStock(productID, warehouseID, 10)

	res, err := svc.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 6,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	if _, err = svc.ReleaseReservation(context.Background(), res.ID); err == nil {
		t.Fatal("expected release to fail while the ledger is down")
	}

	// The failed release must leave the row active so a retry can finish
	// it, not terminal with the quantity still held.
	stored, err := svc.GetReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if stored.Status != enum.ReservationStatusActive {
		t.Fatalf("got status %s after failed release, want active", stored.Status)
	}

	released, err := svc.ReleaseReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("retry ReleaseReservation failed: %v", err)
	}
	if released.Status != enum.ReservationStatusReleased {
		t.Errorf("got status %s, want released", released.Status)
	}

	level, err := flaky.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if level.Available != 10 || level.Reserved != 0 {
		t.Errorf("got available=%d reserved=%d after retried release, want 10/0", level.Available, level.Reserved)
	}
}

func TestExpireRetriedBySweeperAfterLedgerFailure(t *testing.T) {
	flaky := &flakyLedger{MemoryRepository: ledger.NewMemoryRepository(), releaseFails: 1}
	holds := reservation.NewMemoryRepository()
	svc, err := NewService(flaky, holds, event.NewMemoryRepository(), newCapturingPublisher(), nil, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	productID, warehouseID := uuid.New(), uuid.New()
	flaky.SetStock(productID, warehouseID, 10)

	res, err := svc.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(),
		Quantity: 4, TTL: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	sweeper := NewSweeper(svc, holds, nil, SweeperConfig{Interval: time.Minute, BatchSize: 10}, zap.NewNop())

	// First cycle fails at the ledger; the reservation stays active and
	// is rediscovered by the next cycle.
	sweeper.sweep(context.Background())
	stored, err := svc.GetReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if stored.Status != enum.ReservationStatusActive {
		t.Fatalf("got status %s after failed sweep, want active", stored.Status)
	}

	sweeper.sweep(context.Background())
	stored, err = svc.GetReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if stored.Status != enum.ReservationStatusExpired {
		t.Fatalf("got status %s after second sweep, want expired", stored.Status)
	}

	level, err := flaky.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if level.Available != 10 || level.Reserved != 0 {
		t.Errorf("got available=%d reserved=%d, want 10/0", level.Available, level.Reserved)
	}
}

func TestFulfillRetriesAfterLedgerFailure(t *testing.T) {
	flaky := &flakyLedger{MemoryRepository: ledger.NewMemoryRepository(), fulfillFails: 1}
	holds := reservation.NewMemoryRepository()
	svc, err := NewService(flaky, holds, event.NewMemoryRepository(), newCapturingPublisher(), nil, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	productID, warehouseID := uuid.New(), uuid.New()
	flaky.SetStock(productID, warehouseID, 10)

	res, err := svc.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(), Quantity: 6,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	if _, err = svc.FulfillReservation(context.Background(), res.ID); err == nil {
		t.Fatal("expected fulfillment to fail while the ledger is down")
	}
	stored, err := svc.GetReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if stored.Status != enum.ReservationStatusActive {
		t.Fatalf("got status %s after failed fulfillment, want active", stored.Status)
	}

	fulfilled, err := svc.FulfillReservation(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("retry FulfillReservation failed: %v", err)
	}
	if fulfilled.Status != enum.ReservationStatusFulfilled {
		t.Errorf("got status %s, want fulfilled", fulfilled.Status)
	}

	level, err := flaky.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if level.Available != 4 || level.Reserved != 0 {
		t.Errorf("got available=%d reserved=%d, want 4/0", level.Available, level.Reserved)
	}

	movements, err := flaky.ListMovements(context.Background(), productID, warehouseID, 10, 0)
	if err != nil {
		t.Fatalf("ListMovements failed: %v", err)
	}
	if len(movements) != 1 {
		t.Errorf("got %d movements, want 1", len(movements))
	}
}

func TestProcessMessageRetriesFailedHandler(t *testing.T) {
	flaky := &flakyLedger{MemoryRepository: ledger.NewMemoryRepository(), onOrderFails: 1}
	svc := &service{
		ledger:       flaky,
		reservations: reservation.NewMemoryRepository(),
		events:       event.NewMemoryRepository(),
		publisher:    newCapturingPublisher(),
		logger:       zap.NewNop(),
		defaultTTL:   time.Hour,
	}
	svc.eventManager = NewEventManager(nil, zap.NewNop())
	svc.registerMessageHandlers()

	productID, warehouseID := uuid.New(), uuid.New()
	payload, err := json.Marshal(PurchaseOrderPlacedEvent{
		ProductID: productID, WarehouseID: warehouseID, Quantity: 7,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	msg := &Message{ID: "msg-retry", Topic: TopicPurchaseOrderPlaced, Data: payload}

	if err = svc.ProcessMessage(context.Background(), msg); err == nil {
		t.Fatal("expected first delivery to fail")
	}

	// A recorded but unprocessed id must be handled again on redelivery,
	// not silently dropped.
	if err = svc.ProcessMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	level, err := flaky.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if level.OnOrder != 7 {
		t.Fatalf("got on_order=%d after redelivery, want 7", level.OnOrder)
	}

	if err = svc.ProcessMessage(context.Background(), msg); err != nil {
		t.Fatalf("third delivery failed: %v", err)
	}
	level, err = flaky.GetStockLevel(context.Background(), productID, warehouseID)
	if err != nil {
		t.Fatalf("GetStockLevel failed: %v", err)
	}
	if level.OnOrder != 7 {
		t.Errorf("got on_order=%d after processed redelivery, want 7", level.OnOrder)
	}
}

func TestEventManagerStopCancelsHandlerContext(t *testing.T) {
	em := NewEventManager(nil, zap.NewNop())
	if em.ctx.Err() != nil {
		t.Fatalf("context cancelled before Stop: %v", em.ctx.Err())
	}

	em.Stop()
	if !errors.Is(em.ctx.Err(), context.Canceled) {
		t.Fatalf("got %v after Stop, want context.Canceled", em.ctx.Err())
	}
}
