package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/config"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/httpx"
	kafkax "github.com/nyan-ucsp/nan-ayeyar-sub000/internal/kafka"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/logging"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/metrics"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/postgres"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/redisx"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("order api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	// Redis: fast path + status cache saja, boleh down
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Warn("redis unavailable at startup", zap.Error(err))
	}
	cache := redisx.NewOrderCache(rdb)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("api", reg)

	// Kafka producers, satu per topic
	var producers []*kafkax.Producer
	var routed []orders.TopicProducer
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged, orders.TopicStockMovement} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, logger)
		p.Start(context.Background()) // closed explicitly after the server drains
		producers = append(producers, p)
		routed = append(routed, p)
	}
	defer func() {
		for _, p := range producers {
			p.Close() // tutup inbox -> flush & close writer
		}
	}()

	store := &orders.PGStore{
		DB:               db,
		LockTimeout:      cfg.TxLockTimeout,
		StatementTimeout: cfg.TxStatementTimeout,
		Attempts:         cfg.TxAttempts,
		OnRetry:          m.TxRetry,
	}
	svc, err := orders.NewService(orders.ServiceDeps{
		Store:    store,
		Payments: &orders.PaymentMethodRepo{DB: db},
		Events:   orders.NewKafkaPublisher(routed...),
		Metrics:  m,
		Logger:   logger,
		Producer: cfg.ServiceName,
	})
	if err != nil {
		return err
	}

	router := httpx.NewRouter(httpx.RouterDeps{Logger: logger, Metrics: m, Gatherer: reg, Timeout: cfg.RequestTimeout})
	(&httpx.OrdersHandler{Orders: svc, Cache: cache, Log: logger, WriteTimeout: cfg.WriteTimeout}).Register(router)
	(&httpx.StockHandler{Stock: svc, Log: logger, WriteTimeout: cfg.WriteTimeout}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
