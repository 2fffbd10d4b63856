package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"feedhub/internal/adapters/httpapi"
	"feedhub/internal/adapters/markdown"
	searchindex "feedhub/internal/adapters/search"
	"feedhub/internal/app"
	"feedhub/internal/domain"
	"feedhub/internal/infra/cache"
	"feedhub/internal/infra/config"
	httpinfra "feedhub/internal/infra/http"
	applog "feedhub/internal/infra/log"
	"feedhub/internal/infra/metrics"
	"feedhub/internal/infra/pubsub"
	"feedhub/internal/infra/queue"
	"feedhub/internal/infra/session"
	"feedhub/internal/invalidation"
	"feedhub/internal/usecase/fanout"
	"feedhub/internal/usecase/feed"
	"feedhub/internal/usecase/follows"
	"feedhub/internal/usecase/posts"
	"feedhub/internal/usecase/search"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	window, err := domain.ParseWindow(cfg.Feed.DefaultWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("api: неверное окно Top по умолчанию")
	}

	store, closeStore, err := app.OpenStore(cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к Redis")
	}

	var (
		resolver  session.Resolver = session.NewRepoResolver(store)
		transport invalidation.Transport
	)
	if rdb != nil {
		defer rdb.Close()
		resolver = session.NewCachedResolver(resolver, cache.NewRedis(rdb, "feed:"), cfg.Session.CacheTTL, applog.Component(logger, "session"))
		transport = pubsub.NewRedisBus(rdb, cfg.Invalidation.Channel, applog.Component(logger, "invalidation_bus"))
	} else {
		logger.Warn().Msg("api: REDIS_ADDR не задан, клиенты узнают об изменениях только при следующей выборке")
	}
	publisher := invalidation.NewPublisher(transport, applog.Component(logger, "invalidation"))

	fanoutQueue, closeQueue, err := app.OpenFanoutQueue(cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("api: не удалось инициализировать очередь рассылки")
	}
	defer closeQueue()

	index, err := searchindex.NewMemory()
	if err != nil {
		log.Fatal().Err(err).Msg("api: не удалось создать поисковый индекс")
	}
	defer index.Close()

	feedService := feed.NewService(store, store, cfg.Feed.PageSize, window, applog.Component(logger, "feed"))
	postService := posts.NewService(store, store, publisher, index, fanoutQueue, applog.Component(logger, "posts"))
	postService.SetRenderer(markdown.NewRenderer())
	followService := follows.NewService(store, store, publisher, applog.Component(logger, "follows"))
	searchService := search.NewService(index, store)

	reindexCtx, reindexCancel := context.WithTimeout(ctx, time.Minute)
	indexed, err := postService.Reindex(reindexCtx)
	reindexCancel()
	if err != nil {
		logger.Error().Err(err).Msg("api: не удалось перестроить поисковый индекс")
	} else {
		logger.Info().Int("posts", indexed).Msg("api: поисковый индекс перестроен")
	}

	if inline, ok := fanoutQueue.(*queue.Inline); ok {
		worker := fanout.NewWorker(inline, postService, applog.Component(logger, "fanout"))
		go worker.Run(ctx)
	}

	api := httpapi.New(feedService, postService, followService, searchService, applog.Component(logger, "feed_api"))
	server := httpinfra.NewServer(applog.Component(logger, "http"))
	api.Mount(server.Router, session.Middleware(cfg.Session.Cookie, resolver, applog.Component(logger, "session")))

	go func() {
		if err := server.Start(httpAddr(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func httpAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
