package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	RecordID  string            `json:"recordId,omitempty"`
	To        string            `json:"to"`
	Title     string            `json:"title,omitempty"`
	Body      string            `json:"body,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	ChannelID string            `json:"channelId"`
	Sound     string            `json:"sound"`
	Priority  string            `json:"priority"`
	Badge     int               `json:"badge"`
}

type webhookResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// WebhookProvider posts pushes as JSON to an HTTP gateway.
type WebhookProvider struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookProvider(endpoint string) (*WebhookProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookProviderWithClient(endpoint, client)
}

func NewWebhookProviderWithClient(endpoint string, client *resty.Client) (*WebhookProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookProvider{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *WebhookProvider) Name() string { return "webhook" }

func (p *WebhookProvider) Send(ctx context.Context, req Request) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	reqBody := webhookRequest{
		RecordID:  req.RecordID,
		To:        req.Target,
		Title:     req.Payload.Title,
		Body:      req.Payload.Body,
		Data:      req.Payload.Data,
		ChannelID: req.Options.ChannelID,
		Sound:     req.Options.Sound,
		Priority:  req.Options.Priority.String(),
		Badge:     req.Badge(),
	}

	var result webhookResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&result).
		Post(p.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &GatewayError{Code: domain.ErrorCodeUnknown, Message: "gateway request canceled", Cause: err}
		}
		return nil, unreachable("gateway request failed", err)
	}
	if response == nil {
		return nil, unreachable("gateway returned empty response", nil)
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			MessageID:  webhookMessageID(response, result),
		}, nil
	}

	return nil, &GatewayError{
		Code:       codeForHTTPStatus(statusCode),
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
	}
}

func codeForHTTPStatus(statusCode int) domain.ErrorCode {
	switch {
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return domain.ErrorCodeInvalidTarget
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return domain.ErrorCodeInvalidPayload
	case statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599):
		return domain.ErrorCodeGatewayUnreachable
	default:
		return domain.ErrorCodeUnknown
	}
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func webhookMessageID(response *resty.Response, result webhookResponse) string {
	if id := strings.TrimSpace(result.MessageID); id != "" {
		return id
	}
	if id := strings.TrimSpace(result.ID); id != "" {
		return id
	}
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
