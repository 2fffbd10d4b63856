package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"feedhub/internal/adapters/feedclient"
	"feedhub/internal/app"
	"feedhub/internal/domain"
	"feedhub/internal/infra/config"
	applog "feedhub/internal/infra/log"
	"feedhub/internal/infra/pubsub"
	"feedhub/internal/infra/session"
	"feedhub/internal/invalidation"
	"feedhub/internal/viewcache"
)

const shownPosts = 5

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	window, err := domain.ParseWindow(cfg.Feed.DefaultWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("feedwatch: неверное окно Top по умолчанию")
	}
	views := make([]domain.ViewKey, 0, len(cfg.Client.WatchViews))
	for _, raw := range cfg.Client.WatchViews {
		key, err := domain.ParseViewKey(raw)
		if err != nil {
			log.Fatal().Err(err).Str("view", raw).Msg("feedwatch: неверное представление")
		}
		views = append(views, key)
	}

	client, err := feedclient.New(cfg.Client.APIBaseURL, feedclient.WithTimeout(cfg.Client.Timeout))
	if err != nil {
		log.Fatal().Err(err).Msg("feedwatch: не удалось создать клиент API")
	}

	fetchCtx := session.WithCredential(ctx, session.Credential{Name: cfg.Session.Cookie, Value: cfg.Client.WatchSession})
	registry := invalidation.NewRegistry(cfg.Client.WatchUser, invalidation.WithLogger(applog.Component(logger, "registry")))
	cache := viewcache.New(client, registry,
		viewcache.WithLogger(applog.Component(logger, "viewcache")),
		viewcache.WithBaseContext(fetchCtx),
		viewcache.WithFetchTimeout(cfg.Client.Timeout),
		viewcache.WithDefaultWindow(window),
	)
	unwatch := cache.Watch(printEntry)
	defer unwatch()

	for _, key := range views {
		cache.Get(key)
	}

	rdb, err := app.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn().Err(err).Msg("feedwatch: Redis недоступен, обновляемся опросом")
	}
	if rdb != nil {
		defer rdb.Close()
		bus := pubsub.NewRedisBus(rdb, cfg.Invalidation.Channel, applog.Component(logger, "invalidation_bus"))
		go func() {
			err := bus.Subscribe(ctx, func(topic string) {
				for _, key := range cache.Invalidate(topic) {
					cache.Get(key)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("feedwatch: подписка на инвалидации прервана")
			}
		}()
	}

	ticker := time.NewTicker(cfg.Client.WatchPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rdb != nil {
				continue
			}
			for _, key := range views {
				cache.InvalidateView(key)
				cache.Get(key)
			}
		}
	}
}

func printEntry(e viewcache.Entry) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Key.String(), e.Status)
	if e.Err != nil {
		fmt.Fprintf(&b, " error=%v", e.Err)
	}
	posts := e.Posts()
	fmt.Fprintf(&b, " posts=%d\n", len(posts))
	for i, p := range posts {
		if i == shownPosts {
			fmt.Fprintf(&b, "  ... ещё %d\n", len(posts)-shownPosts)
			break
		}
		fmt.Fprintf(&b, "  %-40s likes=%d tags=%s\n", p.Title, p.LikeCount, strings.Join(p.Tags, ","))
	}
	_, _ = os.Stdout.WriteString(b.String())
}
