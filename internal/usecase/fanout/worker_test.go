package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedhub/internal/domain"
	"feedhub/internal/infra/queue"
)

type flakyHandler struct {
	mu       sync.Mutex
	failures int
	attempts []int
	done     chan struct{}
}

func (h *flakyHandler) Fanout(_ context.Context, job domain.FanoutJob) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, job.Attempt)
	if h.failures > 0 {
		h.failures--
		return errors.New("followers unavailable")
	}
	close(h.done)
	return nil
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	q := queue.NewInline(4)
	h := &flakyHandler{failures: 1, done: make(chan struct{})}
	w := NewWorker(q, h, zerolog.Nop())
	w.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Enqueue(ctx, domain.FanoutJob{ID: "j1", AuthorID: "a", PostID: "p"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	finished := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(finished)
	}()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("задача не была обработана повторно")
	}
	cancel()
	<-finished

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.attempts) != 2 || h.attempts[0] != 0 || h.attempts[1] != 1 {
		t.Fatalf("ожидали попытки [0 1], получили %v", h.attempts)
	}
}

func TestWorkerSkipsJobWithoutAuthor(t *testing.T) {
	q := queue.NewInline(4)
	h := &flakyHandler{done: make(chan struct{})}
	w := NewWorker(q, h, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Enqueue(ctx, domain.FanoutJob{ID: "bad"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := q.Enqueue(ctx, domain.FanoutJob{ID: "ok", AuthorID: "a"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	go w.Run(ctx)
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("задача не обработана")
	}
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.attempts) != 1 {
		t.Fatalf("ожидали одну обработку, получили %d", len(h.attempts))
	}
}
