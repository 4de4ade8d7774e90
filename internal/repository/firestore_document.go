package repository

import (
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

// Firestore field names. The layout matches what existing fcm_messages
// producers write.
const (
	fieldStatus      = "status"
	fieldProcessed   = "processed"
	fieldTimestamp   = "timestamp"
	fieldProcessedAt = "processedAt"
	fieldSentAt      = "sentAt"
	fieldFailedAt    = "failedAt"
	fieldMessageID   = "messageId"
	fieldError       = "error"
	fieldErrorCode   = "errorCode"
)

type dispatchDocument struct {
	To           string               `firestore:"to"`
	Notification notificationDocument `firestore:"notification"`
	Data         map[string]any       `firestore:"data,omitempty"`
	Android      *androidDocument     `firestore:"android,omitempty"`
	APNS         *apnsDocument        `firestore:"apns,omitempty"`
	Status       string               `firestore:"status,omitempty"`
	Processed    bool                 `firestore:"processed"`
	Timestamp    time.Time            `firestore:"timestamp"`
	ProcessedAt  *time.Time           `firestore:"processedAt,omitempty"`
	MessageID    string               `firestore:"messageId,omitempty"`
	Error        string               `firestore:"error,omitempty"`
	ErrorCode    string               `firestore:"errorCode,omitempty"`
}

type notificationDocument struct {
	Title string `firestore:"title,omitempty"`
	Body  string `firestore:"body,omitempty"`
}

type androidDocument struct {
	Priority     string                      `firestore:"priority,omitempty"`
	Notification androidNotificationDocument `firestore:"notification"`
}

type androidNotificationDocument struct {
	ChannelID string `firestore:"channelId,omitempty"`
	Sound     string `firestore:"sound,omitempty"`
}

type apnsDocument struct {
	Badge *int   `firestore:"badge,omitempty"`
	Sound string `firestore:"sound,omitempty"`
}

func documentFromDomain(r *domain.DispatchRecord) dispatchDocument {
	doc := dispatchDocument{
		To: r.Target,
		Notification: notificationDocument{
			Title: r.Payload.Title,
			Body:  r.Payload.Body,
		},
		Status:      r.Status.String(),
		Processed:   r.Status.IsTerminal(),
		Timestamp:   r.CreatedAt,
		ProcessedAt: r.ProcessedAt,
		MessageID:   r.GatewayMessageID,
		Error:       r.ErrorDetail,
		ErrorCode:   string(r.ErrorCode),
	}

	if len(r.Payload.Data) > 0 {
		doc.Data = make(map[string]any, len(r.Payload.Data))
		for k, v := range r.Payload.Data {
			doc.Data[k] = v
		}
	}

	if opts := r.PlatformOptions; opts != nil {
		if opts.ChannelID != "" || opts.Sound != "" || opts.Priority != "" {
			doc.Android = &androidDocument{
				Priority: opts.Priority.String(),
				Notification: androidNotificationDocument{
					ChannelID: opts.ChannelID,
					Sound:     opts.Sound,
				},
			}
		}
		if opts.Badge != nil || opts.Sound != "" {
			doc.APNS = &apnsDocument{Badge: opts.Badge, Sound: opts.Sound}
		}
	}

	return doc
}

func documentToDomain(id string, doc dispatchDocument) (*domain.DispatchRecord, error) {
	status, err := domain.ParseStatusFromString(doc.Status)
	if err != nil {
		return nil, err
	}
	// Older documents carry only the processed flag.
	if doc.Processed && status == domain.StatusPending {
		status = domain.StatusFailed
		if doc.MessageID != "" {
			status = domain.StatusSent
		}
	}

	record := &domain.DispatchRecord{
		ID:     id,
		Target: doc.To,
		Payload: domain.Payload{
			Title: doc.Notification.Title,
			Body:  doc.Notification.Body,
		},
		Status:           status,
		CreatedAt:        doc.Timestamp,
		ProcessedAt:      doc.ProcessedAt,
		GatewayMessageID: doc.MessageID,
		ErrorDetail:      doc.Error,
		ErrorCode:        domain.ErrorCode(doc.ErrorCode),
	}

	if len(doc.Data) > 0 {
		record.Payload.Data = make(map[string]string, len(doc.Data))
		for k, v := range doc.Data {
			if s, ok := v.(string); ok {
				record.Payload.Data[k] = s
				continue
			}
			record.Payload.Data[k] = fmt.Sprint(v)
		}
	}

	if doc.Android != nil || doc.APNS != nil {
		opts := &domain.PlatformOptions{}
		if doc.Android != nil {
			opts.ChannelID = doc.Android.Notification.ChannelID
			opts.Sound = doc.Android.Notification.Sound
			opts.Priority = domain.Priority(doc.Android.Priority)
		}
		if doc.APNS != nil {
			opts.Badge = doc.APNS.Badge
			if opts.Sound == "" {
				opts.Sound = doc.APNS.Sound
			}
		}
		record.PlatformOptions = opts
	}

	return record, nil
}

// outcomeUpdates is the partial merge written at the terminal transition.
func outcomeUpdates(outcome domain.DispatchOutcome) []firestore.Update {
	updates := []firestore.Update{
		{Path: fieldStatus, Value: outcome.Status.String()},
		{Path: fieldProcessed, Value: true},
		{Path: fieldProcessedAt, Value: outcome.ProcessedAt},
	}

	if outcome.Status == domain.StatusSent {
		return append(updates,
			firestore.Update{Path: fieldSentAt, Value: outcome.ProcessedAt},
			firestore.Update{Path: fieldMessageID, Value: outcome.GatewayMessageID},
		)
	}

	return append(updates,
		firestore.Update{Path: fieldFailedAt, Value: outcome.ProcessedAt},
		firestore.Update{Path: fieldError, Value: outcome.ErrorDetail},
		firestore.Update{Path: fieldErrorCode, Value: string(outcome.ErrorCode)},
	)
}
