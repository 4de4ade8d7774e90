package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"go.uber.org/zap"
)

// DispatchService inserts and reads dispatch records for the HTTP API. The
// watcher picks inserted records up from the store.
type DispatchService struct {
	records repository.DispatchRepository
	logger  *zap.Logger
	now     func() time.Time
}

func NewDispatchService(records repository.DispatchRepository, logger *zap.Logger) (*DispatchService, error) {
	if records == nil {
		return nil, fmt.Errorf("dispatch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		records: records,
		logger:  logger,
		now:     time.Now,
	}, nil
}

func (s *DispatchService) Create(ctx context.Context, record *domain.DispatchRecord) (*domain.DispatchRecord, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if record == nil {
		return nil, fmt.Errorf("%w: record is required", domain.ErrValidation)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	record.ID = ""
	record.Target = strings.TrimSpace(record.Target)
	record.Status = domain.StatusPending
	record.CreatedAt = s.now().UTC()
	record.ProcessedAt = nil
	record.GatewayMessageID = ""
	record.ErrorDetail = ""
	record.ErrorCode = ""

	if err := s.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create dispatch record: %w", err)
	}

	s.logger.Info("dispatch record created", zap.String("recordId", record.ID))
	return record, nil
}

func (s *DispatchService) GetByID(ctx context.Context, id string) (*domain.DispatchRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return s.records.GetByID(ctx, id)
}
