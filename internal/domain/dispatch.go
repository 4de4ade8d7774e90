package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a dispatch record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return StatusPending, nil
	}
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Priority is the delivery priority hint passed to the push gateway.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Defaults applied to every outgoing push unless the record overrides them.
const (
	DefaultChannelID = "high_importance_channel"
	DefaultSound     = "default"
	DefaultBadge     = 1
	DefaultPriority  = PriorityHigh
)

// Payload is the user-visible part of a push message.
type Payload struct {
	Title string
	Body  string
	Data  map[string]string
}

// PlatformOptions carries per-platform delivery hints. Zero values mean "use the default".
type PlatformOptions struct {
	ChannelID string
	Sound     string
	Priority  Priority
	Badge     *int
}

// DefaultPlatformOptions returns the options used when a record carries none.
func DefaultPlatformOptions(channelID string) PlatformOptions {
	if strings.TrimSpace(channelID) == "" {
		channelID = DefaultChannelID
	}
	badge := DefaultBadge
	return PlatformOptions{
		ChannelID: channelID,
		Sound:     DefaultSound,
		Priority:  DefaultPriority,
		Badge:     &badge,
	}
}

// WithDefaults merges o over defaults; every non-empty field of o wins.
func (o *PlatformOptions) WithDefaults(defaults PlatformOptions) PlatformOptions {
	merged := defaults
	if o == nil {
		return merged
	}
	if v := strings.TrimSpace(o.ChannelID); v != "" {
		merged.ChannelID = v
	}
	if v := strings.TrimSpace(o.Sound); v != "" {
		merged.Sound = v
	}
	if o.Priority.IsValid() {
		merged.Priority = o.Priority
	}
	if o.Badge != nil {
		badge := *o.Badge
		merged.Badge = &badge
	}
	return merged
}

// DispatchRecord is one requested push notification and its delivery state.
type DispatchRecord struct {
	ID               string
	Target           string
	Payload          Payload
	PlatformOptions  *PlatformOptions
	Status           Status
	CreatedAt        time.Time
	ProcessedAt      *time.Time
	GatewayMessageID string
	ErrorDetail      string
	ErrorCode        ErrorCode
}

// Validate checks the fields the gateway needs. Errors wrap ErrValidation and
// carry the matching ErrorCode through CodeOf.
func (r *DispatchRecord) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return &ValidationError{Code: ErrorCodeInvalidTarget, Message: "target is required"}
	}
	if strings.TrimSpace(r.Payload.Title) == "" && strings.TrimSpace(r.Payload.Body) == "" {
		return &ValidationError{Code: ErrorCodeInvalidPayload, Message: "payload title or body is required"}
	}
	if r.PlatformOptions != nil && r.PlatformOptions.Priority != "" && !r.PlatformOptions.Priority.IsValid() {
		return &ValidationError{Code: ErrorCodeInvalidPayload, Message: fmt.Sprintf("invalid priority %q", r.PlatformOptions.Priority)}
	}
	if r.PlatformOptions != nil && r.PlatformOptions.Badge != nil && *r.PlatformOptions.Badge < 0 {
		return &ValidationError{Code: ErrorCodeInvalidPayload, Message: "badge must not be negative"}
	}
	return nil
}

// DispatchOutcome is the terminal state written back onto a record.
type DispatchOutcome struct {
	Status           Status
	ProcessedAt      time.Time
	GatewayMessageID string
	ErrorDetail      string
	ErrorCode        ErrorCode
}

func SentOutcome(messageID string, at time.Time) DispatchOutcome {
	return DispatchOutcome{
		Status:           StatusSent,
		ProcessedAt:      at.UTC(),
		GatewayMessageID: messageID,
	}
}

func FailedOutcome(detail string, code ErrorCode, at time.Time) DispatchOutcome {
	if strings.TrimSpace(detail) == "" {
		detail = code.String()
	}
	return DispatchOutcome{
		Status:      StatusFailed,
		ProcessedAt: at.UTC(),
		ErrorDetail: detail,
		ErrorCode:   code,
	}
}

// Apply copies the outcome onto the record.
func (o DispatchOutcome) Apply(r *DispatchRecord) {
	if r == nil {
		return
	}
	processedAt := o.ProcessedAt
	r.Status = o.Status
	r.ProcessedAt = &processedAt
	r.GatewayMessageID = o.GatewayMessageID
	r.ErrorDetail = o.ErrorDetail
	r.ErrorCode = o.ErrorCode
}
