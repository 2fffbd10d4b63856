package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
)

// RabbitFanoutQueue реализует очередь рассылки через AMQP.
type RabbitFanoutQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

var _ domain.FanoutQueue = (*RabbitFanoutQueue)(nil)

// NewRabbitFanoutQueue подключается к брокеру и объявляет durable очередь.
func NewRabbitFanoutQueue(amqpURL, queue string) (*RabbitFanoutQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	start := time.Now()
	conn, err := amqp.Dial(amqpURL)
	metrics.ObserveNetworkRequest("rabbitmq", "dial", queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitFanoutQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitFanoutQueue) Enqueue(ctx context.Context, job domain.FanoutJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.CreatedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Неподтверждённая задача
// возвращается в очередь один раз.
func (q *RabbitFanoutQueue) Receive(ctx context.Context) (domain.FanoutJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.FanoutJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.FanoutJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.FanoutJob{}, nil, errors.New("rabbitmq: delivery channel closed")
		}
		var job domain.FanoutJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.FanoutJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			return d.Nack(false, !d.Redelivered)
		}
		return job, ack, nil
	}
}

func (q *RabbitFanoutQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close закрывает канал и соединение.
func (q *RabbitFanoutQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}
