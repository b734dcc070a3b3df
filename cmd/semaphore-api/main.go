// Semaphore API — HTTP вход scheduler'а.
//
// Его вызывает Airflow DAG: триггер сбора, проверка завершённости,
// timeout, override статуса и итоговая сводка.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Semaphore/internal/api"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/notify"
	"github.com/shaiso/Semaphore/internal/repo"
	"github.com/shaiso/Semaphore/internal/scheduler"
	"github.com/shaiso/Semaphore/internal/telemetry"
)

var triggersTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "semaphore_api_triggers_total",
	Help: "Total trigger-collect-lights requests",
})

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting semaphore-api")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Репозитории
	dagRunRepo := repo.NewDagRunRepo(pool)
	commandRepo := repo.NewCommandRepo(pool)
	historyRepo := repo.NewCommandHistoryRepo(pool)
	lightRepo := repo.NewLightRepo(pool)

	// RabbitMQ
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}
	publisher := mq.NewPublisher(mqConn, logger)

	// Уведомления (выключены без webhook URL)
	var notifier scheduler.Notifier
	if url := os.Getenv("TEAMS_WEBHOOK_URL"); url != "" {
		notifier = notify.NewTeams(url, logger)
		logger.Info("teams notifications enabled")
	}

	// Scheduler
	sched := scheduler.NewService(
		dagRunRepo,
		commandRepo,
		lightRepo,
		publisher,
		notifier,
		logger,
		scheduler.Config{DagTimeout: dagTimeout(logger)},
	)

	// HTTP
	handler := api.NewHandler(sched, commandRepo, historyRepo, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	countTriggers := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/scheduler/trigger-collect-lights" {
				triggersTotal.Inc()
			}
			next.ServeHTTP(w, r)
		})
	}

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: countTriggers(mux),
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// dagTimeout читает DAG_TIMEOUT (duration, например "1h").
func dagTimeout(logger *slog.Logger) time.Duration {
	v := os.Getenv("DAG_TIMEOUT")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("invalid DAG_TIMEOUT, using default", "value", v)
		return 0
	}
	return d
}
