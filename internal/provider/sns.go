package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

// SNSPublishAPI is the subset of *sns.Client the SNS provider uses.
type SNSPublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSProvider publishes pushes to SNS platform application endpoints. The
// record target is the endpoint ARN.
type SNSProvider struct {
	client SNSPublishAPI
}

func NewSNSProvider(client SNSPublishAPI) (*SNSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is required")
	}
	return &SNSProvider{client: client}, nil
}

func (p *SNSProvider) Name() string { return "sns" }

func (p *SNSProvider) Send(ctx context.Context, req Request) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	message, err := BuildSNSMessage(req)
	if err != nil {
		return nil, &GatewayError{Code: domain.ErrorCodeInvalidPayload, Message: "failed to encode sns message", Cause: err}
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(req.Target),
		MessageStructure: aws.String("json"),
		Message:          aws.String(message),
	})
	if err != nil {
		return nil, classifySNSError(err)
	}

	return &ProviderResponse{MessageID: aws.ToString(out.MessageId)}, nil
}

type gcmPayload struct {
	Notification gcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     string            `json:"priority"`
}

type gcmNotification struct {
	Title     string `json:"title,omitempty"`
	Body      string `json:"body,omitempty"`
	Sound     string `json:"sound"`
	ChannelID string `json:"android_channel_id"`
}

type apnsPayload struct {
	Aps  apsBlock          `json:"aps"`
	Data map[string]string `json:"data,omitempty"`
}

type apsBlock struct {
	Alert apsAlert `json:"alert"`
	Sound string   `json:"sound"`
	Badge int      `json:"badge"`
}

type apsAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// BuildSNSMessage renders the per-platform JSON document SNS expects with
// MessageStructure=json.
func BuildSNSMessage(req Request) (string, error) {
	gcm, err := json.Marshal(gcmPayload{
		Notification: gcmNotification{
			Title:     req.Payload.Title,
			Body:      req.Payload.Body,
			Sound:     req.Options.Sound,
			ChannelID: req.Options.ChannelID,
		},
		Data:     req.Payload.Data,
		Priority: req.Options.Priority.String(),
	})
	if err != nil {
		return "", err
	}

	apns, err := json.Marshal(apnsPayload{
		Aps: apsBlock{
			Alert: apsAlert{Title: req.Payload.Title, Body: req.Payload.Body},
			Sound: req.Options.Sound,
			Badge: req.Badge(),
		},
		Data: req.Payload.Data,
	})
	if err != nil {
		return "", err
	}

	defaultText := req.Payload.Body
	if defaultText == "" {
		defaultText = req.Payload.Title
	}

	doc, err := json.Marshal(map[string]string{
		"default":      defaultText,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", err
	}
	return string(doc), nil
}

func classifySNSError(err error) *GatewayError {
	var (
		disabled     *types.EndpointDisabledException
		notFound     *types.NotFoundException
		invalidParam *types.InvalidParameterException
		invalidValue *types.InvalidParameterValueException
		throttled    *types.ThrottledException
		internal     *types.InternalErrorException
	)

	switch {
	case errors.As(err, &disabled), errors.As(err, &notFound):
		return &GatewayError{Code: domain.ErrorCodeInvalidTarget, Message: err.Error()}
	case errors.As(err, &invalidParam), errors.As(err, &invalidValue):
		return &GatewayError{Code: domain.ErrorCodeInvalidPayload, Message: err.Error()}
	case errors.As(err, &throttled), errors.As(err, &internal):
		return &GatewayError{Code: domain.ErrorCodeGatewayUnreachable, Message: err.Error()}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return unreachable("sns request failed", err)
	}

	return &GatewayError{Code: domain.ErrorCodeUnknown, Message: err.Error()}
}
