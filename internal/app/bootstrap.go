// Package app собирает инфраструктуру, общую для бинарников: хранилище,
// Redis и очередь рассылки.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"feedhub/internal/adapters/repo"
	"feedhub/internal/domain"
	"feedhub/internal/infra/config"
	"feedhub/internal/infra/db"
	"feedhub/internal/infra/queue"
)

// Store объединяет интерфейсы хранилища.
type Store interface {
	domain.PostRepo
	domain.FollowRepo
	domain.UserRepo
	domain.SessionRepo
}

const (
	demoUser    = "demo"
	demoSession = "demo-session"
)

// OpenStore открывает хранилище по cfg.Storage. close освобождает ресурсы.
func OpenStore(cfg config.AppConfig, logger zerolog.Logger) (Store, func(), error) {
	switch cfg.Storage {
	case "postgres":
		if cfg.PGDSN == "" {
			return nil, nil, fmt.Errorf("PG_DSN is required for postgres storage")
		}
		pool, err := db.Connect(cfg.PGDSN, cfg.PGConns)
		if err != nil {
			return nil, nil, err
		}
		return repo.NewPostgres(pool), pool.Close, nil
	case "memory":
		store := repo.NewMemory()
		if cfg.AppEnv == "dev" {
			store.AddUser(domain.User{ID: demoUser, Name: "Demo", CreatedAt: time.Now().UTC()})
			store.AddSession(domain.Session{Token: demoSession, UserID: demoUser, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)})
			logger.Info().Str("user", demoUser).Str("session", demoSession).Msg("app: in-memory хранилище с демо-сессией")
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// OpenRedis подключается к Redis. Пустой адрес возвращает nil без ошибки.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

const inlineQueueSize = 256

// OpenFanoutQueue создаёт очередь рассылки. Очередь inline живёт в памяти
// процесса API, её читает встроенный воркер.
func OpenFanoutQueue(cfg config.AppConfig, rdb *redis.Client) (domain.FanoutQueue, func(), error) {
	switch cfg.Fanout.Backend {
	case "inline":
		return queue.NewInline(inlineQueueSize), func() {}, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("REDIS_ADDR is required for redis fanout backend")
		}
		return queue.NewRedisFanoutQueue(rdb, cfg.Fanout.Queue), func() {}, nil
	case "rabbitmq":
		if cfg.Fanout.AMQPURL == "" {
			return nil, nil, fmt.Errorf("AMQP_URL is required for rabbitmq fanout backend")
		}
		q, err := queue.NewRabbitFanoutQueue(cfg.Fanout.AMQPURL, cfg.Fanout.Queue)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown fanout backend %q", cfg.Fanout.Backend)
	}
}
