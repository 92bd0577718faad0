package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"arcyn-link/internal/adapters/repo"
	"arcyn-link/internal/adapters/summarizer"
	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/anthropic"
	"arcyn-link/internal/infra/config"
	"arcyn-link/internal/infra/db"
	loginfra "arcyn-link/internal/infra/log"
	"arcyn-link/internal/infra/metrics"
	"arcyn-link/internal/infra/notify"
	"arcyn-link/internal/infra/queue"
	"arcyn-link/internal/usecase/summary"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var summaryQueue domain.SummaryQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitSummaryQueue(cfg.AMQPURL, cfg.Queues.Summary)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к AMQP")
		}
		defer rabbit.Close()
		summaryQueue = rabbit
	} else {
		redisQueue := queue.NewRedisSummaryQueue(redisClient, cfg.Queues.Summary)
		// Задачи, зависшие после падения предыдущего воркера, возвращаются в очередь.
		if moved, err := redisQueue.RequeueInFlight(ctx); err != nil {
			logger.Error().Err(err).Msg("worker: возврат незавершённых задач")
		} else if moved > 0 {
			logger.Info().Int("moved", moved).Msg("worker: незавершённые задачи возвращены в очередь")
		}
		summaryQueue = redisQueue
	}
	jobStore := queue.NewRedisJobStore(redisClient, "ai_jobs", cfg.Worker.KeepCompleted, cfg.Worker.KeepFailed)

	repoAdapter := repo.NewPostgres(pool)

	var threadSummarizer domain.Summarizer
	if cfg.Claude.APIKey != "" {
		client := anthropic.NewClient(cfg.Claude.APIKey, cfg.Claude.BaseURL, cfg.Claude.Timeout)
		threadSummarizer = summarizer.NewClaude(client, cfg.Claude.Model, cfg.Claude.Timeout)
	} else {
		logger.Warn().Msg("worker: ключ Claude не задан, используется офлайн-суммаризатор")
		threadSummarizer = summarizer.NewSimple()
	}

	publisher := notify.NewRedisPublisher(redisClient, "")
	worker := summary.NewWorker(
		summaryQueue,
		jobStore,
		repoAdapter,
		threadSummarizer,
		publisher,
		cfg.Worker.Concurrency,
		logger.With().Str("component", "worker").Logger(),
	)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	logger.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker: старт")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: остановлен с ошибкой")
	}
	logger.Info().Msg("worker: остановка")
}
