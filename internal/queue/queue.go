package queue

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. A non-nil error requeues it.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DispatchQueue is the work queue the dispatcher consumes.
	DispatchQueue = "push.dispatch"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the work queue.
	queueMaxPriority int32 = 2
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.push.dispatch.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 2
	case domain.PriorityNormal:
		return 1
	default:
		return 0
	}
}
