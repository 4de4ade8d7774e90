package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// DispatchMessage is the broker payload pointing at a stored dispatch record.
type DispatchMessage struct {
	RecordID      string          `json:"recordId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Priority      domain.Priority `json:"priority,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.RecordID) == "" {
		return fmt.Errorf("recordId is required")
	}
	if m.Priority != "" && !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
