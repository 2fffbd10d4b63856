package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"feedhub/internal/app"
	"feedhub/internal/infra/config"
	applog "feedhub/internal/infra/log"
	"feedhub/internal/infra/metrics"
	"feedhub/internal/infra/pubsub"
	"feedhub/internal/invalidation"
	"feedhub/internal/usecase/fanout"
	"feedhub/internal/usecase/posts"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.Fanout.Backend == "inline" {
		log.Fatal().Msg("worker: FANOUT_BACKEND=inline обрабатывается процессом api, укажите redis или rabbitmq")
	}

	store, closeStore, err := app.OpenStore(cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: нет подключения к хранилищу")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: нет подключения к Redis")
	}
	if rdb == nil {
		log.Fatal().Msg("worker: не указан адрес Redis (REDIS_ADDR) для шины инвалидации")
	}
	defer rdb.Close()

	bus := pubsub.NewRedisBus(rdb, cfg.Invalidation.Channel, applog.Component(logger, "invalidation_bus"))
	publisher := invalidation.NewPublisher(bus, applog.Component(logger, "invalidation"))

	fanoutQueue, closeQueue, err := app.OpenFanoutQueue(cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь рассылки")
	}
	defer closeQueue()

	handler := posts.NewService(store, store, publisher, nil, nil, applog.Component(logger, "posts"))
	worker := fanout.NewWorker(fanoutQueue, handler, applog.Component(logger, "fanout"))

	logger.Info().Str("backend", cfg.Fanout.Backend).Str("queue", cfg.Fanout.Queue).Msg("worker: старт")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановка")
}
