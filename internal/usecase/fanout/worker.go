// Package fanout обрабатывает очередь рассылки инвалидаций подписчикам автора.
package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
)

// Handler выполняет одну задачу рассылки.
type Handler interface {
	Fanout(ctx context.Context, job domain.FanoutJob) error
}

// Worker читает задачи из очереди, пока не отменён контекст.
type Worker struct {
	log     zerolog.Logger
	queue   domain.FanoutQueue
	handler Handler
	backoff time.Duration
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.FanoutQueue, handler Handler, logger zerolog.Logger) *Worker {
	return &Worker{log: logger, queue: queue, handler: handler, backoff: time.Second}
}

// Run обрабатывает задачи до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("fanout: ошибка чтения очереди")
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		w.handle(ctx, job, ack)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.FanoutJob, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("author_id", job.AuthorID).
		Str("post_id", job.PostID).
		Int("attempt", job.Attempt).
		Logger()

	if job.AuthorID == "" {
		jobLog.Error().Msg("fanout: задача без автора, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("fanout: не удалось подтвердить задачу")
		}
		return
	}

	if err := w.handler.Fanout(ctx, job); err != nil {
		jobLog.Warn().Err(err).Msg("fanout: задача завершилась ошибкой, повторим позже")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("fanout: не удалось вернуть задачу в очередь")
		}
		w.sleep(ctx)
		return
	}
	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("fanout: не удалось подтвердить задачу")
	}
}

func (w *Worker) sleep(ctx context.Context) bool {
	t := time.NewTimer(w.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
