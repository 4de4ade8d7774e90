package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"gorm.io/datatypes"
)

// DispatchRecordModel is the persistence model for the dispatch_records table.
type DispatchRecordModel struct {
	ID               string                            `gorm:"type:uuid;primaryKey"`
	Target           string                            `gorm:"type:text;not null"`
	Payload          datatypes.JSONType[payloadColumn] `gorm:"type:jsonb;not null"`
	PlatformOptions  datatypes.JSON                    `gorm:"type:jsonb"`
	Status           domain.Status                     `gorm:"type:varchar(20);not null;default:pending"`
	GatewayMessageID *string                           `gorm:"type:varchar(255)"`
	ErrorDetail      *string                           `gorm:"type:text"`
	ErrorCode        *string                           `gorm:"type:varchar(40)"`
	ProcessedAt      *time.Time                        `gorm:"type:timestamptz"`
	CreatedAt        time.Time                         `gorm:"type:timestamptz;not null"`
}

func (DispatchRecordModel) TableName() string {
	return "dispatch_records"
}

type payloadColumn struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data,omitempty"`
}

type platformOptionsColumn struct {
	ChannelID string `json:"channelId,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Badge     *int   `json:"badge,omitempty"`
}

func dispatchModelFromDomain(r *domain.DispatchRecord) (*DispatchRecordModel, error) {
	if r == nil {
		return nil, nil
	}

	model := &DispatchRecordModel{
		ID:     r.ID,
		Target: r.Target,
		Payload: datatypes.NewJSONType(payloadColumn{
			Title: r.Payload.Title,
			Body:  r.Payload.Body,
			Data:  r.Payload.Data,
		}),
		Status:           r.Status,
		GatewayMessageID: optionalString(r.GatewayMessageID),
		ErrorDetail:      optionalString(r.ErrorDetail),
		ErrorCode:        optionalString(string(r.ErrorCode)),
		ProcessedAt:      r.ProcessedAt,
		CreatedAt:        r.CreatedAt,
	}

	if r.PlatformOptions != nil {
		raw, err := json.Marshal(platformOptionsColumn{
			ChannelID: r.PlatformOptions.ChannelID,
			Sound:     r.PlatformOptions.Sound,
			Priority:  r.PlatformOptions.Priority.String(),
			Badge:     r.PlatformOptions.Badge,
		})
		if err != nil {
			return nil, err
		}
		model.PlatformOptions = datatypes.JSON(raw)
	}

	return model, nil
}

func dispatchModelToDomain(m *DispatchRecordModel) (*domain.DispatchRecord, error) {
	if m == nil {
		return nil, nil
	}

	status, err := domain.ParseStatusFromString(string(m.Status))
	if err != nil {
		return nil, err
	}

	payload := m.Payload.Data()
	record := &domain.DispatchRecord{
		ID:     m.ID,
		Target: m.Target,
		Payload: domain.Payload{
			Title: payload.Title,
			Body:  payload.Body,
			Data:  payload.Data,
		},
		Status:           status,
		CreatedAt:        m.CreatedAt,
		ProcessedAt:      m.ProcessedAt,
		GatewayMessageID: derefString(m.GatewayMessageID),
		ErrorDetail:      derefString(m.ErrorDetail),
		ErrorCode:        domain.ErrorCode(derefString(m.ErrorCode)),
	}

	if len(m.PlatformOptions) > 0 && string(m.PlatformOptions) != "null" {
		var opts platformOptionsColumn
		if err := json.Unmarshal(m.PlatformOptions, &opts); err != nil {
			return nil, err
		}
		record.PlatformOptions = &domain.PlatformOptions{
			ChannelID: opts.ChannelID,
			Sound:     opts.Sound,
			Priority:  domain.Priority(opts.Priority),
			Badge:     opts.Badge,
		}
	}

	return record, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
