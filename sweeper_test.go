package inventory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gofalre.io/inventory/models/enum"
)

type recordingInvoker struct {
	mu    sync.Mutex
	calls []string
}

func (i *recordingInvoker) Invoke(_ context.Context, service, path, method string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, method+" "+service+path)
	return nil
}

func TestSweepExpiresOverdueReservations(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	overdue, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(),
		Quantity: 4, TTL: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}
	live, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(),
		Quantity: 2, TTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	invoker := &recordingInvoker{}
	sweeper := NewSweeper(f.service, f.holds, invoker, SweeperConfig{
		Interval:     time.Minute,
		BatchSize:    10,
		StockService: "stock",
	}, zap.NewNop())

	sweeper.sweep(context.Background())

	stored, err := f.service.GetReservation(context.Background(), overdue.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if stored.Status != enum.ReservationStatusExpired {
		t.Errorf("got status %s, want expired", stored.Status)
	}

	untouched, err := f.service.GetReservation(context.Background(), live.ID)
	if err != nil {
		t.Fatalf("GetReservation failed: %v", err)
	}
	if untouched.Status != enum.ReservationStatusActive {
		t.Errorf("live reservation was expired early, status %s", untouched.Status)
	}

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 8 || reserved != 2 {
		t.Errorf("got available=%d reserved=%d, want 8/2", available, reserved)
	}

	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if len(invoker.calls) != 1 {
		t.Fatalf("got %d remote calls, want 1", len(invoker.calls))
	}
	if !strings.Contains(invoker.calls[0], overdue.ID.String()) {
		t.Errorf("remote call %q does not reference the expired reservation", invoker.calls[0])
	}
	if !strings.HasPrefix(invoker.calls[0], "DELETE stock/api/inventory/stock-operations/reservations/") {
		t.Errorf("unexpected remote call %q", invoker.calls[0])
	}
}

func TestSweepIsRepeatSafe(t *testing.T) {
	f := newFixture(t)
	productID, warehouseID := uuid.New(), uuid.New()
	f.ledger.SetStock(productID, warehouseID, 10)

	if _, err := f.service.CreateReservation(context.Background(), CreateReservationRequest{
		ProductID: productID, WarehouseID: warehouseID, OrderID: uuid.New(),
		Quantity: 4, TTL: time.Millisecond,
	}); err != nil {
		t.Fatalf("CreateReservation failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	sweeper := NewSweeper(f.service, f.holds, nil, SweeperConfig{
		Interval:  time.Minute,
		BatchSize: 10,
	}, zap.NewNop())

	sweeper.sweep(context.Background())
	sweeper.sweep(context.Background())

	available, reserved := f.stockLevel(t, productID, warehouseID)
	if available != 10 || reserved != 0 {
		t.Errorf("got available=%d reserved=%d after double sweep, want 10/0", available, reserved)
	}
	if f.publisher.count(TopicStockReleased) != 1 {
		t.Errorf("got %d released events, want 1", f.publisher.count(TopicStockReleased))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	sweeper := NewSweeper(f.service, f.holds, nil, SweeperConfig{
		Interval: time.Minute,
		Grace:    time.Hour,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
