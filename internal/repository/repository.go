package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"go.uber.org/zap"
)

// DispatchRepository is the durable record store boundary.
type DispatchRepository interface {
	Create(ctx context.Context, record *domain.DispatchRecord) error
	GetByID(ctx context.Context, id string) (*domain.DispatchRecord, error)
	// CompleteDispatch writes outcome only while the record is still pending.
	// It returns domain.ErrConflict when the record is already terminal.
	CompleteDispatch(ctx context.Context, id string, outcome domain.DispatchOutcome) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// DeleteBatch removes all ids in one atomic operation.
	DeleteBatch(ctx context.Context, ids []string) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.DispatchRecord, error)
	Ping(ctx context.Context) error
}

// InsertHandler receives each record observed by an InsertionFeed.
type InsertHandler func(ctx context.Context, record domain.DispatchRecord) error

// InsertionFeed streams newly inserted records until ctx is done.
type InsertionFeed interface {
	WatchInserted(ctx context.Context, fn InsertHandler) error
}

func normalizeLimit(limit, upper int) int {
	if limit < 1 || limit > upper {
		return upper
	}
	return limit
}

// MaxBatchSize bounds ListExpired and DeleteBatch; Firestore transactions
// accept at most 500 writes.
const MaxBatchSize = 500

// collectRecords maps stored items to records. Items that fail to map are
// logged and left out.
func collectRecords[T any](items []T, idOf func(T) string, toDomain func(T) (*domain.DispatchRecord, error), logger *zap.Logger) []domain.DispatchRecord {
	records := make([]domain.DispatchRecord, 0, len(items))
	for _, item := range items {
		record, err := toDomain(item)
		if err != nil {
			logger.Warn("skipping unreadable dispatch record",
				zap.String("recordId", idOf(item)),
				zap.Error(err),
			)
			continue
		}
		records = append(records, *record)
	}
	return records
}
