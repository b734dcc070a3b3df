// Semaphore Sweeper — автономный timeout sweep.
//
// Периодически гасит Running runs с истёкшим дедлайном: их зависшие
// команды переводятся в Timeout, сам run — в Timeout.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Semaphore/internal/repo"
	"github.com/shaiso/Semaphore/internal/scheduler"
	"github.com/shaiso/Semaphore/internal/sweeper"
	"github.com/shaiso/Semaphore/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting semaphore-sweeper")

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

	dagRunRepo := repo.NewDagRunRepo(pool)
	commandRepo := repo.NewCommandRepo(pool)
	lightRepo := repo.NewLightRepo(pool)

	// Scheduler без шины и уведомлений: sweep ничего не публикует.
	sched := scheduler.NewService(
		dagRunRepo,
		commandRepo,
		lightRepo,
		nil,
		nil,
		logger,
		scheduler.Config{},
	)

	interval := time.Duration(0)
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("invalid SWEEP_INTERVAL", "value", v, "error", err)
			os.Exit(1)
		}
		interval = d
	}

	sw := sweeper.New(dagRunRepo, sched, logger, sweeper.Config{
		Interval: interval,
		CronSpec: os.Getenv("SWEEP_CRON"),
	})

	go func() {
		if err := sw.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("sweeper stopped", "error", err)
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

	port := ":8082"
	if v := os.Getenv("SWEEPER_PORT"); v != "" {
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
	logger.Info("semaphore-sweeper stopped")
}
