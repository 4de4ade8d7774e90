package queue

import (
	"context"
	"fmt"
	"sync"
)

const memoryQueueBuffer = 1024

// MemoryQueue is an in-process Publisher and Consumer used when no broker is
// configured. Messages do not survive a restart.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[string]chan DispatchMessage
	closed bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{queues: make(map[string]chan DispatchMessage)}
}

func (q *MemoryQueue) queue(name string) (chan DispatchMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("memory queue is closed")
	}
	ch, ok := q.queues[name]
	if !ok {
		ch = make(chan DispatchMessage, memoryQueueBuffer)
		q.queues[name] = ch
	}
	return ch, nil
}

func (q *MemoryQueue) Publish(ctx context.Context, queue string, msg DispatchMessage) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch message: %w", err)
	}

	ch, err := q.queue(queue)
	if err != nil {
		return err
	}

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to publish message to queue %q: %w", queue, ctx.Err())
	}
}

// Consume delivers messages to handler until ctx is done. A failed message is
// put back on the queue once.
func (q *MemoryQueue) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	ch, err := q.queue(queue)
	if err != nil {
		return err
	}

	redelivered := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			if err := handler(ctx, msg); err != nil && !redelivered[msg.RecordID] {
				redelivered[msg.RecordID] = true
				select {
				case ch <- msg:
				default:
				}
				continue
			}
			delete(redelivered, msg.RecordID)
		}
	}
}

// Len returns the number of buffered messages on queue.
func (q *MemoryQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
