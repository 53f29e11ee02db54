package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	inventory "gofalre.io/inventory"
	"gofalre.io/inventory/driver"
	"gofalre.io/inventory/event"
	"gofalre.io/inventory/ledger"
	"gofalre.io/inventory/reservation"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := inventory.LoadConfig()

	db, err := driver.ConnectSQL(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Pool.Close()

	redisClient, err := driver.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("Failed to connect to redis, running without cache", zap.Error(err))
		redisClient = nil
	}

	natsConn, err := nats.Connect(cfg.NATSURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		logger.Fatal("Failed to connect to nats", zap.Error(err))
	}
	defer natsConn.Close()

	tm := driver.NewTransactionManager(db.Pool, logger)
	cache := ledger.NewCache(redisClient, logger)

	ledgerRepo := ledger.NewRepository(db.Pool, tm, cache, logger)
	reservationRepo := reservation.NewRepository(db.Pool, logger)
	eventRepo := event.NewRepository(db.Pool, logger)
	publisher := inventory.NewNATSPublisher(natsConn, logger)

	service, err := inventory.NewService(
		ledgerRepo,
		reservationRepo,
		eventRepo,
		publisher,
		natsConn,
		cfg.DefaultReservationTTL,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to build inventory service", zap.Error(err))
	}
	defer service.Shutdown()

	var invoker inventory.RemoteInvoker
	stockService := ""
	if cfg.StockServiceURL != "" {
		stockService = "stock"
		invoker = inventory.NewHTTPInvoker(
			map[string]string{stockService: cfg.StockServiceURL},
			cfg.InvokeTimeout,
			logger,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := inventory.NewSweeper(service, reservationRepo, invoker, inventory.SweeperConfig{
		Interval:     cfg.SweepInterval,
		Grace:        cfg.SweepGrace,
		BatchSize:    cfg.SweepBatchSize,
		StockService: stockService,
	}, logger)
	go sweeper.Run(ctx)

	mux := http.NewServeMux()
	inventory.NewServer(service, logger).Register(mux)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Inventory service listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down HTTP server cleanly", zap.Error(err))
	}

	_ = os.Stdout.Sync()
}
