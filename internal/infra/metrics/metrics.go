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
	SessionsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_sessions_connected",
		Help: "Число подключённых realtime-сессий",
	})

	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_rooms_active",
		Help: "Число комнат с хотя бы одной сессией",
	})

	EventsInbound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_inbound_total",
		Help: "Количество входящих событий по типам",
	}, []string{"event"})

	EventsBroadcast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_broadcast_total",
		Help: "Количество разосланных событий по типам",
	}, []string{"event"})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_events_dropped_total",
		Help: "Количество событий, не доставленных из-за переполнения буфера сессии",
	})

	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_auth_failures_total",
		Help: "Количество неудачных аутентификаций при подключении",
	})

	SummaryJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_jobs_total",
		Help: "Количество задач суммаризации по конечному статусу",
	}, []string{"status"})

	SummaryJobSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "summary_job_seconds",
		Help:    "Длительность обработки задачи суммаризации",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов к внешним системам",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов к внешним системам",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации LLM",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов LLM по типам",
	}, []string{"model", "kind"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SessionsConnected,
		RoomsActive,
		EventsInbound,
		EventsBroadcast,
		EventsDropped,
		AuthFailures,
		SummaryJobsTotal,
		SummaryJobSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
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

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
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
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, inputTokens, outputTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if inputTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
	if total := inputTokens + outputTokens; total > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(total))
	}
}

// IncInboundEvent увеличивает счётчик входящих событий.
func IncInboundEvent(event string) {
	EventsInbound.WithLabelValues(event).Inc()
}

// IncBroadcastEvent увеличивает счётчик разосланных событий.
func IncBroadcastEvent(event string) {
	EventsBroadcast.WithLabelValues(event).Inc()
}

// ObserveSummaryJob записывает результат и длительность задачи суммаризации.
func ObserveSummaryJob(status string, start time.Time) {
	SummaryJobsTotal.WithLabelValues(status).Inc()
	SummaryJobSeconds.Observe(time.Since(start).Seconds())
}
