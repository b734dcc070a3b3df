// Semaphore Ingestor — потребитель результатов анализа.
//
// Читает collection.results, применяет результаты к командам,
// ведёт журнал и уведомляет об ошибках анализа.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Semaphore/internal/ingest"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/notify"
	"github.com/shaiso/Semaphore/internal/repo"
	"github.com/shaiso/Semaphore/internal/telemetry"
)

var (
	resultsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semaphore_ingestor_results_processed_total",
		Help: "Results applied or deliberately dropped",
	})
	resultsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semaphore_ingestor_results_failed_total",
		Help: "Results that failed processing and were requeued or rejected",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting semaphore-ingestor")

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

	commandRepo := repo.NewCommandRepo(pool)
	historyRepo := repo.NewCommandHistoryRepo(pool)

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

	// Уведомления об ошибках анализа (выключены без webhook URL)
	var notifier ingest.ErrorNotifier
	if url := os.Getenv("TEAMS_WEBHOOK_URL"); url != "" {
		notifier = notify.NewTeams(url, logger)
		logger.Info("teams notifications enabled")
	}

	ingestor := ingest.NewIngestor(commandRepo, historyRepo, notifier, logger, ingest.Config{
		AllowOverwrite: os.Getenv("ALLOW_RESULT_OVERWRITE") == "true",
		CallbackURL:    os.Getenv("COMMAND_CALLBACK_URL"),
	})

	handler := func(ctx context.Context, body []byte) error {
		err := ingestor.Handle(ctx, body)
		if err != nil {
			resultsFailed.Inc()
		} else {
			resultsProcessed.Inc()
		}
		return err
	}

	consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueCollectionResults),
		Handler:  handler,
		Prefetch: 10,
	})

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("consumer stopped", "error", err)
			cancel()
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("INGESTOR_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	consumer.Stop()
	logger.Info("semaphore-ingestor stopped")
}
