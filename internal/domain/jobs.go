package domain

import (
	"context"
	"time"
)

// FanoutJob — задача разослать инвалидацию подписчикам автора нового поста.
type FanoutJob struct {
	ID        string    `json:"job_id"`
	AuthorID  string    `json:"author_id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
	Attempt   int       `json:"attempt,omitempty"`
}

// MaxFanoutAttempts — сколько раз задача рассылки возвращается в очередь.
const MaxFanoutAttempts = 3

// FanoutQueue описывает очередь задач рассылки.
type FanoutQueue interface {
	Enqueue(ctx context.Context, job FanoutJob) error
	Receive(ctx context.Context) (FanoutJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error
