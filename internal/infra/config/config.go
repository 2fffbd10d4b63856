package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Storage выбирает хранилище постов: postgres или memory.
	Storage string `envconfig:"STORAGE" default:"postgres"`
	PGDSN   string `envconfig:"PG_DSN"`
	PGConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Feed struct {
		PageSize      int    `envconfig:"FEED_PAGE_SIZE" default:"20"`
		DefaultWindow string `envconfig:"FEED_TOP_DEFAULT_WINDOW" default:"week"`
	} `envconfig:""`

	Session struct {
		Cookie   string        `envconfig:"SESSION_COOKIE" default:"feed_session"`
		CacheTTL time.Duration `envconfig:"SESSION_CACHE_TTL" default:"1m"`
	} `envconfig:""`

	Invalidation struct {
		Channel string `envconfig:"INVALIDATION_CHANNEL" default:"feed:invalidate"`
	} `envconfig:""`

	Fanout struct {
		// Backend: inline, redis или rabbitmq.
		Backend string `envconfig:"FANOUT_BACKEND" default:"inline"`
		Queue   string `envconfig:"FANOUT_QUEUE" default:"feed_fanout"`
		AMQPURL string `envconfig:"AMQP_URL"`
	} `envconfig:""`

	Client struct {
		APIBaseURL string        `envconfig:"API_BASE_URL" default:"http://localhost:8080"`
		Timeout    time.Duration `envconfig:"CLIENT_TIMEOUT" default:"10s"`
		WebPort    int           `envconfig:"WEB_PORT" default:"3000"`
		WatchViews []string      `envconfig:"WATCH_VIEWS" default:"global,top:week"`
		// WatchSession и WatchUser — сессия и пользователь терминального клиента.
		WatchSession string        `envconfig:"WATCH_SESSION"`
		WatchUser    string        `envconfig:"WATCH_USER"`
		WatchPoll    time.Duration `envconfig:"WATCH_POLL" default:"30s"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
