package inventory

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gofalre.io/inventory/models"
	"gofalre.io/inventory/reservation"
)

const (
	defaultSweepInterval  = 5 * time.Minute
	defaultSweepGrace     = 30 * time.Second
	defaultSweepBatchSize = 100
)

type SweeperConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	BatchSize int

	// StockService names the remote service whose reservation copy must
	// be deleted after a local expiry. Empty means the ledger is local
	// and no remote call is made.
	StockService string
}

// Sweeper expires reservations whose hold deadline has passed. It runs as
// a background loop and finishes each expired reservation through the
// same lifecycle path callers use, so release events and ledger returns
// happen exactly as for a manual release.
type Sweeper struct {
	service      Service
	reservations reservation.Repository
	invoker      RemoteInvoker
	logger       *zap.Logger
	interval     time.Duration
	grace        time.Duration
	batchSize    int
	stockService string
}

func NewSweeper(service Service, reservations reservation.Repository, invoker RemoteInvoker, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = defaultSweepGrace
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatchSize
	}

	return &Sweeper{
		service:      service,
		reservations: reservations,
		invoker:      invoker,
		logger:       logger,
		interval:     cfg.Interval,
		grace:        cfg.Grace,
		batchSize:    cfg.BatchSize,
		stockService: cfg.StockService,
	}
}

// Run blocks until ctx is cancelled. The first sweep happens after the
// grace delay so a restarting process does not immediately expire holds
// it has not observed yet.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("Reservation expiry sweeper starting",
		zap.Duration("interval", s.interval),
		zap.Duration("grace", s.grace))

	select {
	case <-time.After(s.grace):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("Reservation expiry sweeper stopping")
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.reservations.ListExpired(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list expired reservations", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	s.logger.Warn("Found expired reservations", zap.Int("count", len(expired)))

	for _, res := range expired {
		if ctx.Err() != nil {
			return
		}
		s.expire(ctx, res)
	}
}

// expire finishes a single reservation. Failures, including panics, are
// contained so the rest of the batch is still processed.
func (s *Sweeper) expire(ctx context.Context, res *models.Reservation) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Panic while expiring reservation",
				zap.String("reservation_id", res.ID.String()),
				zap.Any("panic", p))
		}
	}()

	if _, err := s.service.ExpireReservation(ctx, res.ID); err != nil {
		s.logger.Error("Failed to expire reservation",
			zap.String("reservation_id", res.ID.String()),
			zap.Error(err))
		return
	}

	s.logger.Info("Expired reservation",
		zap.String("reservation_id", res.ID.String()),
		zap.String("order_id", res.OrderID.String()),
		zap.Int64("quantity", res.Quantity))

	s.notifyRemote(ctx, res)
}

// notifyRemote tells a remote stock service to drop its copy of the
// reservation. A failure is logged and left for the remote side's own
// expiry handling; local state stays authoritative.
func (s *Sweeper) notifyRemote(ctx context.Context, res *models.Reservation) {
	if s.invoker == nil || s.stockService == "" {
		return
	}

	path := fmt.Sprintf("/api/inventory/stock-operations/reservations/%s", res.ID)
	if err := s.invoker.Invoke(ctx, s.stockService, path, http.MethodDelete); err != nil {
		s.logger.Warn("Failed to propagate reservation release to stock service",
			zap.String("reservation_id", res.ID.String()),
			zap.Error(err))
	}
}
