package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/lock"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/provider"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/ratelimit"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Dispatcher sends pending records through the push gateway and records the
// terminal outcome exactly once.
type Dispatcher struct {
	records     repository.DispatchRepository
	consumer    queue.Consumer
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	locker      lock.Locker
	defaults    domain.PlatformOptions
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewDispatcher(
	records repository.DispatchRepository,
	consumer queue.Consumer,
	gateway provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	locker lock.Locker,
	defaults domain.PlatformOptions,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if records == nil {
		return nil, fmt.Errorf("dispatch repository is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("push provider is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if locker == nil {
		locker = lock.NopLocker{}
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		records:     records,
		consumer:    consumer,
		provider:    gateway,
		rateLimiter: rateLimiter,
		locker:      locker,
		defaults:    defaults,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the dispatch queue with the configured number of workers
// until context cancellation.
func (s *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.consumer == nil {
		return fmt.Errorf("queue consumer is required")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.DispatchQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queue.DispatchQueue),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueue),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *Dispatcher) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	return s.Dispatch(ctx, msg.RecordID)
}

// Dispatch handles one record. A nil error means the message can be acked:
// the record was completed, skipped, or its outcome write failed after the
// send. Errors are only returned when nothing was sent yet.
func (s *Dispatcher) Dispatch(ctx context.Context, recordID string) error {
	ctx = observability.WithRecordID(ctx, recordID)
	logger := observability.WithContextLogger(s.logger, ctx)

	release, err := s.locker.TryLock(ctx, recordID)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Debug("record is being dispatched elsewhere, skipping")
		s.metrics.IncDispatchSkipped("locked")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release dispatch lock", zap.Error(err))
		}
	}()

	record, err := s.records.GetByID(ctx, recordID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("record not found, skipping")
		s.metrics.IncDispatchSkipped("not_found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load dispatch record: %w", err)
	}

	if record.Status != domain.StatusPending {
		logger.Debug("record already processed, skipping", zap.String("status", record.Status.String()))
		s.metrics.IncDispatchSkipped("terminal")
		return nil
	}

	s.metrics.IncWorkerInFlight()
	defer s.metrics.DecWorkerInFlight()

	if err := record.Validate(); err != nil {
		code := domain.CodeOf(err)
		s.metrics.IncDispatchFailed(code.String())
		s.complete(ctx, logger, record.ID, domain.FailedOutcome(err.Error(), code, s.now()))
		return nil
	}

	if err := s.rateLimiter.Wait(ctx, s.provider.Name()); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	sendStart := s.now()
	resp, sendErr := s.provider.Send(ctx, provider.NewRequest(*record, s.defaults))
	s.metrics.ObserveDispatchSendDuration(s.now().Sub(sendStart))

	if sendErr != nil && errors.Is(sendErr, context.Canceled) && ctx.Err() != nil {
		return fmt.Errorf("dispatch interrupted: %w", ctx.Err())
	}

	if sendErr != nil {
		code := domain.CodeOf(sendErr)
		logger.Info("push gateway rejected dispatch",
			zap.String("errorCode", code.String()),
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)
		s.metrics.IncDispatchFailed(code.String())
		s.complete(ctx, logger, record.ID, domain.FailedOutcome(sendErr.Error(), code, s.now()))
		return nil
	}

	messageID := ""
	if resp != nil {
		messageID = resp.MessageID
	}
	s.metrics.IncDispatchSent()
	s.complete(ctx, logger, record.ID, domain.SentOutcome(messageID, s.now()))
	return nil
}

// complete writes the terminal outcome. Write failures are logged and not
// retried; the record stays pending for the pending scanner.
func (s *Dispatcher) complete(ctx context.Context, logger *zap.Logger, recordID string, outcome domain.DispatchOutcome) {
	err := s.records.CompleteDispatch(context.WithoutCancel(ctx), recordID, outcome)
	switch {
	case err == nil:
		logger.Info("dispatch completed",
			zap.String("status", outcome.Status.String()),
			zap.String("gatewayMessageId", outcome.GatewayMessageID),
		)
	case errors.Is(err, domain.ErrConflict):
		logger.Warn("record completed concurrently, outcome discarded",
			zap.String("status", outcome.Status.String()),
		)
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("record deleted before outcome write")
	default:
		logger.Error("failed to persist dispatch outcome",
			zap.String("status", outcome.Status.String()),
			zap.String("processedAt", outcome.ProcessedAt.Format(time.RFC3339)),
			zap.String("gatewayMessageId", outcome.GatewayMessageID),
			zap.Error(err),
		)
	}
}
