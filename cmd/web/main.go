package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"feedhub/internal/adapters/feedclient"
	"feedhub/internal/adapters/web"
	"feedhub/internal/domain"
	"feedhub/internal/infra/config"
	httpinfra "feedhub/internal/infra/http"
	applog "feedhub/internal/infra/log"
	"feedhub/internal/infra/metrics"
	"feedhub/internal/usecase/prefetch"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	window, err := domain.ParseWindow(cfg.Feed.DefaultWindow)
	if err != nil {
		log.Fatal().Err(err).Msg("web: неверное окно Top по умолчанию")
	}
	views := []domain.ViewKey{{Kind: domain.FeedGlobal}, {Kind: domain.FeedTop}, {Kind: domain.FeedFollowed}}

	client, err := feedclient.New(cfg.Client.APIBaseURL, feedclient.WithTimeout(cfg.Client.Timeout))
	if err != nil {
		log.Fatal().Err(err).Msg("web: не удалось создать клиент API")
	}
	prefetcher := prefetch.NewService(client, views, window, applog.Component(logger, "prefetch"))

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	web.NewHandler(prefetcher, cfg.Session.Cookie, applog.Component(logger, "web")).Mount(server.Router)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Client.WebPort)); err != nil {
			logger.Error().Err(err).Msg("web: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("web: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
