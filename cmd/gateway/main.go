package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"arcyn-link/internal/adapters/repo"
	"arcyn-link/internal/domain"
	"arcyn-link/internal/infra/auth"
	"arcyn-link/internal/infra/config"
	"arcyn-link/internal/infra/db"
	httpinfra "arcyn-link/internal/infra/http"
	loginfra "arcyn-link/internal/infra/log"
	"arcyn-link/internal/infra/metrics"
	"arcyn-link/internal/infra/notify"
	"arcyn-link/internal/infra/queue"
	"arcyn-link/internal/realtime"
	"arcyn-link/internal/usecase/chat"
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
		logger.Fatal().Err(err).Msg("gateway: нет подключения к БД")
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	var summaryQueue domain.SummaryQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbitSummaryQueue(cfg.AMQPURL, cfg.Queues.Summary)
		if err != nil {
			logger.Fatal().Err(err).Msg("gateway: нет подключения к AMQP")
		}
		defer rabbit.Close()
		summaryQueue = rabbit
	} else {
		summaryQueue = queue.NewRedisSummaryQueue(redisClient, cfg.Queues.Summary)
	}
	jobStore := queue.NewRedisJobStore(redisClient, "ai_jobs", cfg.Worker.KeepCompleted, cfg.Worker.KeepFailed)

	repoAdapter := repo.NewPostgres(pool)
	verifier := auth.NewHMACVerifier(cfg.Auth.Secret)
	chatService := chat.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter)
	summaryService := summary.NewService(repoAdapter, repoAdapter, repoAdapter, summaryQueue, jobStore)

	hub := realtime.NewHub(logger.With().Str("component", "hub").Logger())
	wsHandler := realtime.NewHandler(hub, verifier, chatService, logger.With().Str("component", "ws").Logger())
	go notify.Subscribe(ctx, redisClient, "", func(roomKey string, event domain.Event) {
		hub.Broadcast(roomKey, event)
	}, logger.With().Str("component", "notify").Logger())

	server := httpinfra.NewServer(logger)
	server.Router.Get("/ws", wsHandler.ServeWS)

	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.AuthMiddleware(verifier))

		protected.Post("/api/v1/ai/summarize", func(w http.ResponseWriter, r *http.Request) {
			identity, _ := httpinfra.IdentityFromContext(r.Context())
			defer r.Body.Close()
			var req struct {
				ThreadID string `json:"thread_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ThreadID == "" {
				httpinfra.WriteError(w, http.StatusBadRequest, "thread_id обязателен")
				return
			}
			jobID, err := summaryService.RequestSummary(r.Context(), identity, req.ThreadID)
			if err != nil {
				switch {
				case errors.Is(err, summary.ErrThreadNotFound):
					httpinfra.WriteError(w, http.StatusNotFound, err.Error())
				case errors.Is(err, summary.ErrEmptyThread):
					httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
				default:
					logger.Error().Err(err).Msg("gateway: постановка задачи")
					httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось поставить задачу")
				}
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"job_id": jobID})
		})

		protected.Get("/api/v1/ai/jobs/{jobID}", func(w http.ResponseWriter, r *http.Request) {
			status, err := summaryService.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
			if err != nil {
				if errors.Is(err, domain.ErrJobNotFound) {
					httpinfra.WriteError(w, http.StatusNotFound, "задача не найдена")
					return
				}
				logger.Error().Err(err).Msg("gateway: статус задачи")
				httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить статус")
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, status)
		})

		protected.Get("/api/v1/ai/summaries/{threadID}", func(w http.ResponseWriter, r *http.Request) {
			identity, _ := httpinfra.IdentityFromContext(r.Context())
			summaries, err := summaryService.ListSummaries(r.Context(), identity, chi.URLParam(r, "threadID"))
			if err != nil {
				if errors.Is(err, summary.ErrThreadNotFound) {
					httpinfra.WriteError(w, http.StatusNotFound, err.Error())
					return
				}
				logger.Error().Err(err).Msg("gateway: список суммаризаций")
				httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить суммаризации")
				return
			}
			if summaries == nil {
				summaries = []domain.Summary{}
			}
			httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
		})

		protected.Get("/api/v1/ai/summaries/{threadID}/latest", func(w http.ResponseWriter, r *http.Request) {
			identity, _ := httpinfra.IdentityFromContext(r.Context())
			latest, err := summaryService.LatestSummary(r.Context(), identity, chi.URLParam(r, "threadID"))
			if err != nil {
				switch {
				case errors.Is(err, summary.ErrThreadNotFound), errors.Is(err, summary.ErrNoSummary):
					httpinfra.WriteError(w, http.StatusNotFound, err.Error())
				default:
					logger.Error().Err(err).Msg("gateway: последняя суммаризация")
					httpinfra.WriteError(w, http.StatusInternalServerError, "не удалось получить суммаризацию")
				}
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"summary": latest})
		})
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("gateway: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("gateway: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
