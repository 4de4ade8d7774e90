package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultFeedPollInterval = time.Second

type GormDispatchRepo struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormDispatchRepo(db *gorm.DB) *GormDispatchRepo {
	return &GormDispatchRepo{db: db, logger: zap.NewNop()}
}

// SetLogger sets the logger used to report rows that cannot be mapped.
func (r *GormDispatchRepo) SetLogger(logger *zap.Logger) {
	if r == nil || logger == nil {
		return
	}
	r.logger = logger
}

// validRecordID reports whether id can exist in the uuid primary key column.
func validRecordID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *GormDispatchRepo) Create(ctx context.Context, record *domain.DispatchRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record is required", domain.ErrValidation)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = domain.StatusPending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	model, err := dispatchModelFromDomain(record)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(model).Error
}

func (r *GormDispatchRepo) GetByID(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	if !validRecordID(id) {
		return nil, fmt.Errorf("record %q: %w", id, domain.ErrNotFound)
	}

	var model DispatchRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return dispatchModelToDomain(&model)
}

func (r *GormDispatchRepo) CompleteDispatch(ctx context.Context, id string, outcome domain.DispatchOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("%w: outcome status %q is not terminal", domain.ErrValidation, outcome.Status)
	}
	if !validRecordID(id) {
		return fmt.Errorf("record %q: %w", id, domain.ErrNotFound)
	}

	result := r.db.WithContext(ctx).
		Model(&DispatchRecordModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":             outcome.Status,
			"processed_at":       outcome.ProcessedAt,
			"gateway_message_id": optionalString(outcome.GatewayMessageID),
			"error_detail":       optionalString(outcome.ErrorDetail),
			"error_code":         optionalString(string(outcome.ErrorCode)),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&DispatchRecordModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *GormDispatchRepo) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&DispatchRecordModel{}).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(normalizeLimit(limit, MaxBatchSize)).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *GormDispatchRepo) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) > MaxBatchSize {
		return fmt.Errorf("%w: batch of %d exceeds %d", domain.ErrValidation, len(ids), MaxBatchSize)
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&DispatchRecordModel{}).Error
}

func (r *GormDispatchRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.DispatchRecord, error) {
	var models []*DispatchRecordModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", domain.StatusPending, olderThan).
		Order("created_at ASC").
		Limit(normalizeLimit(limit, MaxBatchSize)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return collectRecords(models, modelID, dispatchModelToDomain, r.logger), nil
}

func (r *GormDispatchRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GormInsertionFeed polls dispatch_records with a (created_at, id) cursor.
// The cursor outlives a subscription, so a resubscribe resumes after the last
// row handed to the handler.
type GormInsertionFeed struct {
	db       *gorm.DB
	interval time.Duration
	pageSize int
	logger   *zap.Logger

	mu         sync.Mutex
	cursorTime time.Time
	cursorID   string
}

// NewGormInsertionFeed starts the cursor at since so records inserted while
// the watcher was down are replayed.
func NewGormInsertionFeed(db *gorm.DB, interval time.Duration, since time.Time, logger *zap.Logger) *GormInsertionFeed {
	if interval <= 0 {
		interval = defaultFeedPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormInsertionFeed{
		db:         db,
		interval:   interval,
		pageSize:   100,
		logger:     logger,
		cursorTime: since,
	}
}

func (f *GormInsertionFeed) cursor() (time.Time, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursorTime, f.cursorID
}

func (f *GormInsertionFeed) advance(createdAt time.Time, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursorTime = createdAt
	f.cursorID = id
}

func (f *GormInsertionFeed) WatchInserted(ctx context.Context, fn InsertHandler) error {
	if fn == nil {
		return fmt.Errorf("insert handler is required")
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		for {
			cursorTime, cursorID := f.cursor()

			var models []DispatchRecordModel
			err := f.db.WithContext(ctx).
				Where("created_at > ? OR (created_at = ? AND id > ?)", cursorTime, cursorTime, cursorID).
				Order("created_at ASC, id ASC").
				Limit(f.pageSize).
				Find(&models).Error
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to poll dispatch records: %w", err)
			}

			for i := range models {
				record, err := dispatchModelToDomain(&models[i])
				if err != nil {
					f.logger.Warn("skipping unreadable dispatch record",
						zap.String("recordId", models[i].ID),
						zap.Error(err),
					)
					f.advance(models[i].CreatedAt, models[i].ID)
					continue
				}
				if err := fn(ctx, *record); err != nil {
					return err
				}
				f.advance(models[i].CreatedAt, models[i].ID)
			}

			if len(models) < f.pageSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func modelID(m *DispatchRecordModel) string { return m.ID }
