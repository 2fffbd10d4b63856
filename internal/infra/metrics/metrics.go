package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FeedQuerySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_query_seconds",
		Help:    "Время выборки страницы ленты",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "status"})

	FeedPageItems = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_page_items",
		Help:    "Количество постов на странице ленты",
		Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
	}, []string{"kind"})

	TopicsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "invalidation_topics_published_total",
		Help: "Опубликованные топики инвалидации",
	}, []string{"class"})

	FanoutJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_jobs_total",
		Help: "Обработанные задачи рассылки подписчикам",
	}, []string{"status"})

	ViewCacheFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "view_cache_fetches_total",
		Help: "Сетевые выборки кэша представлений",
	}, []string{"op", "status"})

	ViewCachePatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "view_cache_counter_patches_total",
		Help: "Точечные патчи счётчиков в кэше представлений",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedQuerySeconds,
		FeedPageItems,
		TopicsPublished,
		FanoutJobs,
		ViewCacheFetches,
		ViewCachePatches,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := statusLabel(err)
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveFeedQuery записывает выборку страницы ленты.
func ObserveFeedQuery(kind string, start time.Time, items int, err error) {
	FeedQuerySeconds.WithLabelValues(kind, statusLabel(err)).Observe(time.Since(start).Seconds())
	if err == nil {
		FeedPageItems.WithLabelValues(kind).Observe(float64(items))
	}
}

// IncTopic увеличивает счётчик опубликованных топиков по классу (posts, tag, post).
func IncTopic(class string) {
	TopicsPublished.WithLabelValues(class).Inc()
}

// IncViewCacheFetch считает сетевую выборку кэша представлений.
func IncViewCacheFetch(op string, err error) {
	ViewCacheFetches.WithLabelValues(op, statusLabel(err)).Inc()
}

// IncFanout считает задачу рассылки.
func IncFanout(err error) {
	FanoutJobs.WithLabelValues(statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
