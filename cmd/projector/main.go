package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/config"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/httpx"
	kafkax "github.com/nyan-ucsp/nan-ayeyar-sub000/internal/kafka"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/logging"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/metrics"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/orders"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/projector"
	"github.com/nyan-ucsp/nan-ayeyar-sub000/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	name := cfg.ServiceName + "-projector"
	logger, err := logging.New(name, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, name, logger); err != nil {
		logger.Fatal("projector stopped", zap.Error(err))
	}
}

func run(cfg config.Config, name string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New("projector", reg)
	svc := &projector.Service{
		Cache:       redisx.NewOrderCache(rdb),
		Metrics:     m,
		Log:         logger,
		ServiceName: name,
	}

	// metrics + healthz only
	router := httpx.NewRouter(httpx.RouterDeps{Logger: logger, Gatherer: reg})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged} {
		topic := topic
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, topic, cfg.ProjectorWorkers, logger)
		g.Go(func() error {
			logger.Info("consumer started",
				zap.String("group", cfg.ProjectorGroup),
				zap.String("topic", topic),
				zap.Int("workers", cfg.ProjectorWorkers))
			return cons.Start(gctx, svc.HandleEvent)
		})
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
