package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/push-relay/internal/bootstrap"
	"github.com/kursadbilgin/push-relay/internal/config"
	"github.com/kursadbilgin/push-relay/internal/handler"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/service"
	"github.com/kursadbilgin/push-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("push-relay worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("push-relay worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rt, err := bootstrap.New(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close() //nolint:errcheck

	records, err := rt.Records(ctx)
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	feed, err := rt.InsertionFeed(ctx)
	if err != nil {
		return fmt.Errorf("insertion feed initialization failed: %w", err)
	}
	gateway, err := rt.Gateway(ctx)
	if err != nil {
		return fmt.Errorf("push gateway initialization failed: %w", err)
	}
	limiter, err := rt.RateLimiter(ctx)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	locker, err := rt.Locker(ctx)
	if err != nil {
		return fmt.Errorf("locker initialization failed: %w", err)
	}
	publisher, consumer, err := rt.Queue()
	if err != nil {
		return fmt.Errorf("queue initialization failed: %w", err)
	}
	checks, err := rt.ReadinessChecks(ctx, records)
	if err != nil {
		return fmt.Errorf("readiness checks initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	dispatcher, err := service.NewDispatcher(
		records,
		consumer,
		gateway,
		limiter,
		locker,
		rt.PlatformDefaults(),
		cfg.WorkerConcurrency,
		logger.Named("dispatcher"),
	)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	watcher, err := service.NewWatcher(feed, publisher, logger.Named("watcher"))
	if err != nil {
		return err
	}
	watcher.SetMetrics(metrics)

	scanner, err := service.NewPendingScanner(
		records,
		publisher,
		cfg.PendingScanInterval(),
		cfg.PendingScanLimit,
		cfg.PendingRescanAfter(),
		logger.Named("pending-scanner"),
	)
	if err != nil {
		return err
	}
	scanner.SetMetrics(metrics)

	sweeper, err := service.NewSweeper(
		records,
		cfg.RetentionWindow(),
		cfg.SweepBatchSize,
		cfg.SweepSchedule,
		logger.Named("sweeper"),
	)
	if err != nil {
		return err
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "push-relay-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks)

	logger.Info("push-relay worker started",
		zap.String("store", cfg.StoreBackend),
		zap.String("gateway", gateway.Name()),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("port", cfg.WorkerPort),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Start(groupCtx) })
	g.Go(func() error { return watcher.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return sweeper.Start(groupCtx) })
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
