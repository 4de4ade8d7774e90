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
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/push-relay/internal/bootstrap"
	"github.com/kursadbilgin/push-relay/internal/config"
	"github.com/kursadbilgin/push-relay/internal/handler"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/service"
	"github.com/kursadbilgin/push-relay/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.Fatal("runtime initialization failed", zap.Error(err))
	}
	defer rt.Close() //nolint:errcheck

	records, err := rt.Records(ctx)
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}

	checks, err := rt.ReadinessChecks(ctx, records)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}

	dispatchService, err := service.NewDispatchService(records, logger.Named("dispatch-service"))
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		AppName:               "push-relay",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks)
	handler.RegisterDiagnosticRoutes(app, time.Now)
	if err := handler.RegisterDispatchRoutes(app, dispatchService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("push-relay api started",
		zap.Int("port", cfg.APIPort),
		zap.String("store", cfg.StoreBackend),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server stopped with error", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("push-relay api stopped")
}
