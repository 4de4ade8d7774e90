// Command sweeper runs one retention sweep and exits. It is meant for an
// external scheduler (Kubernetes CronJob, Cloud Scheduler) as an alternative
// to the worker's built-in daily schedule.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/push-relay/internal/bootstrap"
	"github.com/kursadbilgin/push-relay/internal/config"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/service"
	"go.uber.org/zap"
)

const runTimeout = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "sweeper")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	deleted, err := sweep(ctx, cfg, logger)
	if err != nil {
		logger.Error("retention sweep failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("retention sweep finished", zap.Int("deleted", deleted))
}

func sweep(ctx context.Context, cfg *config.Config, logger *zap.Logger) (int, error) {
	rt, err := bootstrap.New(cfg, logger)
	if err != nil {
		return 0, err
	}
	defer rt.Close() //nolint:errcheck

	records, err := rt.Records(ctx)
	if err != nil {
		return 0, err
	}

	sweeper, err := service.NewSweeper(
		records,
		cfg.RetentionWindow(),
		cfg.SweepBatchSize,
		cfg.SweepSchedule,
		logger.Named("sweeper"),
	)
	if err != nil {
		return 0, err
	}

	return sweeper.RunOnce(ctx)
}
