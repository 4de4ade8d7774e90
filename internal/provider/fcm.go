package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

// MessagingClient is the subset of *messaging.Client the FCM provider uses.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMProvider sends pushes through Firebase Cloud Messaging.
type FCMProvider struct {
	client MessagingClient
}

func NewFCMProvider(client MessagingClient) (*FCMProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("messaging client is required")
	}
	return &FCMProvider{client: client}, nil
}

func (p *FCMProvider) Name() string { return "fcm" }

func (p *FCMProvider) Send(ctx context.Context, req Request) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	messageID, err := p.client.Send(ctx, BuildFCMMessage(req))
	if err != nil {
		return nil, classifyFCMError(err)
	}

	return &ProviderResponse{MessageID: messageID}, nil
}

// BuildFCMMessage maps a request onto an FCM message with Android and APNs
// blocks filled from the merged platform options.
func BuildFCMMessage(req Request) *messaging.Message {
	badge := req.Badge()

	androidPriority := "high"
	notificationPriority := messaging.PriorityHigh
	apnsPriority := "10"
	if req.Options.Priority == domain.PriorityNormal {
		androidPriority = "normal"
		notificationPriority = messaging.PriorityDefault
		apnsPriority = "5"
	}

	return &messaging.Message{
		Token: req.Target,
		Notification: &messaging.Notification{
			Title: req.Payload.Title,
			Body:  req.Payload.Body,
		},
		Data: req.Payload.Data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID:             req.Options.ChannelID,
				Sound:                 req.Options.Sound,
				Priority:              notificationPriority,
				Visibility:            messaging.VisibilityPublic,
				DefaultVibrateTimings: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: req.Options.Sound,
					Badge: &badge,
				},
			},
		},
	}
}

func classifyFCMError(err error) *GatewayError {
	message := strings.TrimSpace(err.Error())

	switch {
	case messaging.IsUnregistered(err), messaging.IsSenderIDMismatch(err):
		return &GatewayError{Code: domain.ErrorCodeInvalidTarget, Message: message}
	case messaging.IsInvalidArgument(err):
		return &GatewayError{Code: domain.ErrorCodeInvalidPayload, Message: message}
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return &GatewayError{Code: domain.ErrorCodeGatewayUnreachable, Message: message}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return unreachable("fcm request failed", err)
	}

	return &GatewayError{Code: domain.ErrorCodeUnknown, Message: message}
}
