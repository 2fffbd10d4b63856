package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"feedhub/internal/domain"
	"feedhub/internal/infra/metrics"
)

// RedisFanoutQueue реализует очередь рассылки на Redis lists. Взятая задача
// лежит в списке processing до подтверждения.
type RedisFanoutQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.FanoutQueue = (*RedisFanoutQueue)(nil)

// NewRedisFanoutQueue создаёт очередь по указанному ключу.
func NewRedisFanoutQueue(client *redis.Client, key string) *RedisFanoutQueue {
	return &RedisFanoutQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue публикует задачу в очередь.
func (q *RedisFanoutQueue) Enqueue(ctx context.Context, job domain.FanoutJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisFanoutQueue) Receive(ctx context.Context) (domain.FanoutJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.FanoutJob{}, nil, err
		}

		start := time.Now()
		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.FanoutJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			metrics.ObserveNetworkRequest("redis", "blmove", q.key, start, err)
			return domain.FanoutJob{}, nil, err
		}
		metrics.ObserveNetworkRequest("redis", "blmove", q.key, start, nil)

		var job domain.FanoutJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			_ = q.client.LRem(context.Background(), q.processing, 1, payload).Err()
			return domain.FanoutJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ack(payload, job), nil
	}
}

func (q *RedisFanoutQueue) ack(payload string, job domain.FanoutJob) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processing, 1, payload)
		if !success && job.Attempt+1 < domain.MaxFanoutAttempts {
			job.Attempt++
			retry, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("marshal job: %w", err)
			}
			pipe.RPush(ctx, q.key, retry)
		}
		start := time.Now()
		_, err := pipe.Exec(ctx)
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}
