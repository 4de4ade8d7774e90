package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	watchRestartBackoff    = time.Second
	maxWatchRestartBackoff = 30 * time.Second
)

// Watcher turns store insertions into dispatch messages. It never mutates
// records.
type Watcher struct {
	feed      repository.InsertionFeed
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	backoff   time.Duration
}

func NewWatcher(feed repository.InsertionFeed, publisher queue.Publisher, logger *zap.Logger) (*Watcher, error) {
	if feed == nil {
		return nil, fmt.Errorf("insertion feed is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		feed:      feed,
		publisher: publisher,
		logger:    logger,
		backoff:   watchRestartBackoff,
	}, nil
}

func (w *Watcher) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start subscribes to the feed and resubscribes with exponential backoff
// whenever the subscription ends, until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := w.backoff
	for {
		err := w.feed.WatchInserted(ctx, w.handleInserted)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.logger.Error("insertion feed failed, resubscribing",
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		} else {
			w.logger.Warn("insertion feed ended, resubscribing", zap.Duration("backoff", backoff))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxWatchRestartBackoff {
			backoff = maxWatchRestartBackoff
		}
	}
}

// handleInserted publishes pending records. Publish failures are logged and
// swallowed so one bad enqueue never stops the feed.
func (w *Watcher) handleInserted(ctx context.Context, record domain.DispatchRecord) error {
	if record.Status != domain.StatusPending {
		w.metrics.IncWatcherEnqueued("skipped")
		return nil
	}

	msg := dispatchMessageFor(record)
	if err := w.publisher.Publish(ctx, queue.DispatchQueue, msg); err != nil {
		w.logger.Error("failed to enqueue dispatch record",
			zap.String("recordId", record.ID),
			zap.String("queue", queue.DispatchQueue),
			zap.Error(err),
		)
		w.metrics.IncWatcherEnqueued("error")
		return nil
	}

	w.logger.Debug("dispatch record enqueued", zap.String("recordId", record.ID))
	w.metrics.IncWatcherEnqueued("published")
	return nil
}

func dispatchMessageFor(record domain.DispatchRecord) queue.DispatchMessage {
	priority := domain.DefaultPriority
	if record.PlatformOptions != nil && record.PlatformOptions.Priority.IsValid() {
		priority = record.PlatformOptions.Priority
	}

	return queue.DispatchMessage{
		RecordID: record.ID,
		Priority: priority,
	}
}
