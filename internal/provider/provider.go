package provider

import (
	"context"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// Provider is the outbound push gateway port.
type Provider interface {
	Name() string
	Send(ctx context.Context, req Request) (*ProviderResponse, error)
}

// Request is a fully resolved push: record fields plus merged platform options.
type Request struct {
	RecordID string
	Target   string
	Payload  domain.Payload
	Options  domain.PlatformOptions
}

// NewRequest builds the gateway request for record, applying defaults under
// the record's own platform options.
func NewRequest(record domain.DispatchRecord, defaults domain.PlatformOptions) Request {
	return Request{
		RecordID: record.ID,
		Target:   record.Target,
		Payload:  record.Payload,
		Options:  record.PlatformOptions.WithDefaults(defaults),
	}
}

// Badge returns the APNs badge, falling back to domain.DefaultBadge.
func (r Request) Badge() int {
	if r.Options.Badge == nil {
		return domain.DefaultBadge
	}
	return *r.Options.Badge
}

// ProviderResponse stores gateway call metadata.
type ProviderResponse struct {
	StatusCode int
	MessageID  string
}
