package queue

import (
	"context"

	"feedhub/internal/domain"
)

// Inline — очередь в памяти процесса для FANOUT_BACKEND=inline и тестов.
type Inline struct {
	jobs chan domain.FanoutJob
}

var _ domain.FanoutQueue = (*Inline)(nil)

// NewInline создаёт очередь с буфером size.
func NewInline(size int) *Inline {
	if size <= 0 {
		size = 128
	}
	return &Inline{jobs: make(chan domain.FanoutJob, size)}
}

// Enqueue кладёт задачу, блокируясь при полном буфере.
func (q *Inline) Enqueue(ctx context.Context, job domain.FanoutJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт задачу. Неуспешная задача возвращается в очередь, пока не
// исчерпаны попытки.
func (q *Inline) Receive(ctx context.Context) (domain.FanoutJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.FanoutJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		ack := func(success bool) error {
			if success || job.Attempt+1 >= domain.MaxFanoutAttempts {
				return nil
			}
			retry := job
			retry.Attempt++
			select {
			case q.jobs <- retry:
			default:
			}
			return nil
		}
		return job, ack, nil
	}
}
