package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher enqueues dispatch messages on the default exchange.
// Messages expire after the pending rescan window, by which time the pending
// scanner has enqueued the record again; RabbitMQ dead-letters the stale copy.
type RabbitMQPublisher struct {
	client *RabbitMQ
	ttl    time.Duration
	now    func() time.Time
}

// NewRabbitMQPublisher returns a publisher whose messages expire after ttl.
// A ttl of zero or less publishes without expiration.
func NewRabbitMQPublisher(client *RabbitMQ, ttl time.Duration) *RabbitMQPublisher {
	return &RabbitMQPublisher{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg DispatchMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}

	publishing, err := p.publishing(msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish record %s to queue %q: %w", msg.RecordID, queue, err)
	}
	return nil
}

func (p *RabbitMQPublisher) publishing(msg DispatchMessage) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid dispatch message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		Expiration:    expiration(p.ttl),
		MessageId:     msg.RecordID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Priority),
		Body:          body,
	}, nil
}

// expiration formats ttl as the AMQP per-message expiration in milliseconds.
func expiration(ttl time.Duration) string {
	if ttl <= 0 {
		return ""
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
