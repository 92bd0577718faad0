package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	AMQPURL string `envconfig:"AMQP_URL"`

	Auth struct {
		Secret   string        `envconfig:"AUTH_SECRET"`
		TokenTTL time.Duration `envconfig:"AUTH_TOKEN_TTL" default:"24h"`
	} `envconfig:""`

	Claude struct {
		APIKey  string        `envconfig:"CLAUDE_API_KEY"`
		Model   string        `envconfig:"CLAUDE_MODEL" default:"claude-3-sonnet-20240229"`
		BaseURL string        `envconfig:"CLAUDE_BASE_URL"`
		Timeout time.Duration `envconfig:"CLAUDE_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Queues struct {
		Summary string `envconfig:"SUMMARY_QUEUE_KEY" default:"ai_summary_jobs"`
	} `envconfig:""`

	Worker struct {
		Concurrency   int `envconfig:"WORKER_CONCURRENCY" default:"3"`
		KeepCompleted int `envconfig:"JOBS_KEEP_COMPLETED" default:"10"`
		KeepFailed    int `envconfig:"JOBS_KEEP_FAILED" default:"5"`
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
