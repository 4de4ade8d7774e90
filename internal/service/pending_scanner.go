package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPendingScanInterval = time.Minute
	defaultPendingScanLimit    = 100
	defaultPendingRescanAfter  = 5 * time.Minute
)

// PendingScanner periodically re-enqueues records that stayed pending past
// rescanAfter, covering lost watcher events and failed outcome writes.
type PendingScanner struct {
	records     repository.DispatchRepository
	publisher   queue.Publisher
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	limit       int
	rescanAfter time.Duration
	now         func() time.Time
}

func NewPendingScanner(
	records repository.DispatchRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	rescanAfter time.Duration,
	logger *zap.Logger,
) (*PendingScanner, error) {
	if records == nil {
		return nil, fmt.Errorf("dispatch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultPendingScanInterval
	}
	if limit <= 0 {
		limit = defaultPendingScanLimit
	}
	if rescanAfter <= 0 {
		rescanAfter = defaultPendingRescanAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PendingScanner{
		records:     records,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		rescanAfter: rescanAfter,
		now:         time.Now,
	}, nil
}

func (s *PendingScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *PendingScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanStale(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("pending scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanStale(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("pending scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *PendingScanner) scanStale(ctx context.Context) error {
	olderThan := s.now().UTC().Add(-s.rescanAfter)
	stale, err := s.records.ListStalePending(ctx, olderThan, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch stale pending records: %w", err)
	}

	for i := range stale {
		record := stale[i]
		if err := s.publisher.Publish(ctx, queue.DispatchQueue, dispatchMessageFor(record)); err != nil {
			s.logger.Error("failed to re-enqueue pending record",
				zap.String("recordId", record.ID),
				zap.String("queue", queue.DispatchQueue),
				zap.Error(err),
			)
			continue
		}
		s.metrics.IncPendingRequeued()
	}

	if len(stale) > 0 {
		s.logger.Info("re-enqueued stale pending records", zap.Int("count", len(stale)))
	}
	return nil
}
