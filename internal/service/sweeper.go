package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultRetention     = 7 * 24 * time.Hour
	defaultSweepSchedule = "0 0 * * *"
)

// Sweeper deletes records older than the retention window, regardless of
// status, at most batchSize per run.
type Sweeper struct {
	records   repository.DispatchRepository
	logger    *zap.Logger
	metrics   *observability.Metrics
	retention time.Duration
	batchSize int
	schedule  string
	now       func() time.Time
}

func NewSweeper(
	records repository.DispatchRepository,
	retention time.Duration,
	batchSize int,
	schedule string,
	logger *zap.Logger,
) (*Sweeper, error) {
	if records == nil {
		return nil, fmt.Errorf("dispatch repository is required")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	if batchSize <= 0 || batchSize > repository.MaxBatchSize {
		batchSize = repository.MaxBatchSize
	}
	if schedule == "" {
		schedule = defaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		records:   records,
		logger:    logger,
		retention: retention,
		batchSize: batchSize,
		schedule:  schedule,
		now:       time.Now,
	}, nil
}

func (s *Sweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs RunOnce on the cron schedule in UTC until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger: s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule sweeper: %w", err)
	}

	s.logger.Info("sweeper scheduled", zap.String("schedule", s.schedule))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce deletes up to batchSize records created before now-retention in a
// single batch. No delete is issued when nothing has expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.retention)

	ids, err := s.records.ListExpired(ctx, cutoff, s.batchSize)
	if err != nil {
		s.logger.Error("sweeper failed to list expired records",
			zap.Time("cutoff", cutoff),
			zap.Error(err),
		)
		s.metrics.ObserveSweep(0, "error")
		return 0, fmt.Errorf("failed to list expired records: %w", err)
	}

	if len(ids) == 0 {
		s.logger.Info("no expired records to delete", zap.Time("cutoff", cutoff))
		s.metrics.ObserveSweep(0, "empty")
		return 0, nil
	}

	if err := s.records.DeleteBatch(ctx, ids); err != nil {
		s.logger.Error("sweeper batch delete failed",
			zap.Int("count", len(ids)),
			zap.Time("cutoff", cutoff),
			zap.Error(err),
		)
		s.metrics.ObserveSweep(0, "error")
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}

	s.logger.Info("deleted expired records",
		zap.Int("count", len(ids)),
		zap.Time("cutoff", cutoff),
	)
	s.metrics.ObserveSweep(len(ids), "deleted")
	return len(ids), nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
