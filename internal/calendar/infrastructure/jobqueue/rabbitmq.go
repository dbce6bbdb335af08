// Package jobqueue transports background jobs between the API surface and
// the worker pool, over RabbitMQ in production and an in-process channel in
// local mode.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/meridianhq/meridian/internal/calendar/application"
)

const (
	// ExchangeName is the topic exchange jobs are published to.
	ExchangeName = "meridian.calendar.jobs"
	// DefaultQueueName is the worker queue bound to the exchange.
	DefaultQueueName = "meridian.calendar.worker"
)

// RabbitMQQueue publishes and consumes jobs over a topic exchange.
type RabbitMQQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewRabbitMQQueue connects, declares the exchange and queue, and binds the
// job routing keys.
func NewRabbitMQQueue(url, queueName string, logger *slog.Logger) (*RabbitMQQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueName == "" {
		queueName = DefaultQueueName
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(queueName, "job.#", ExchangeName, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("job queue connected", "exchange", ExchangeName, "queue", queueName)
	return &RabbitMQQueue{
		conn:    conn,
		channel: ch,
		queue:   queueName,
		logger:  logger,
	}, nil
}

// Enqueue publishes one job.
func (q *RabbitMQQueue) Enqueue(ctx context.Context, job application.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		"job."+string(job.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		q.logger.Error("failed to publish job", "kind", string(job.Kind), "error", err)
		return err
	}
	q.logger.Debug("job published", "kind", string(job.Kind), "entity_id", job.EntityID)
	return nil
}

// Consume delivers jobs to the handler until the context ends. Failed jobs
// are nacked with requeue so another worker picks them up.
func (q *RabbitMQQueue) Consume(ctx context.Context, handler func(ctx context.Context, job application.Job) error) error {
	deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("job channel closed")
			}
			var job application.Job
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				q.logger.Error("dropping undecodable job", "error", err)
				_ = delivery.Nack(false, false)
				continue
			}
			if err := handler(ctx, job); err != nil {
				q.logger.Warn("job handling failed, requeueing",
					"kind", string(job.Kind), "error", err)
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close closes the channel and connection.
func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.channel != nil {
		if err := q.channel.Close(); err != nil {
			q.logger.Warn("error closing channel", "error", err)
		}
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
