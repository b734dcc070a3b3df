// Package sweeper — автономный timeout sweep.
//
// Периодически выбирает Running runs с истёкшим дедлайном и гасит их
// зависшие команды через scheduler. Внешний endpoint set-time-out
// делает то же самое по явному вызову; sweeper — страховка на случай,
// когда Airflow свой cleanup-шаг не вызвал.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/scheduler"
)

// DefaultInterval — период между проходами, если cron не задан.
const DefaultInterval = time.Minute

// defaultBatchLimit — сколько due runs берётся за один проход.
const defaultBatchLimit = 100

// RunLister выбирает runs с истёкшим дедлайном.
// Реализуется repo.DagRunRepo.
type RunLister interface {
	ListDueForTimeout(ctx context.Context, now time.Time, limit int) ([]domain.DagRun, error)
}

// Config — конфигурация sweeper'а.
type Config struct {
	// Interval — период между проходами. 0 → DefaultInterval.
	// Игнорируется, если задан CronSpec.
	Interval time.Duration

	// CronSpec — cron-выражение расписания проходов
	// (стандартные 5 полей). Пустая строка — тикать по Interval.
	CronSpec string

	// BatchLimit — максимум runs за проход. 0 → defaultBatchLimit.
	BatchLimit int
}

// Sweeper периодически гасит просроченные runs.
type Sweeper struct {
	runs      RunLister
	scheduler *scheduler.Service
	logger    *slog.Logger
	cfg       Config
}

// New создаёт Sweeper.
func New(runs RunLister, sched *scheduler.Service, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	return &Sweeper{
		runs:      runs,
		scheduler: sched,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run крутит проходы до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.cfg.CronSpec != "" {
		return s.runCron(ctx)
	}
	return s.runTicker(ctx)
}

// runTicker — простой интервал между проходами.
func (s *Sweeper) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// runCron — проходы по cron-расписанию.
func (s *Sweeper) runCron(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.CronSpec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", s.cfg.CronSpec, err)
	}

	s.logger.Info("sweeper started", "cron", s.cfg.CronSpec)
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// Sweep — один проход: выбрать due runs и погасить каждый.
// Ошибка по одному run не прерывает проход.
func (s *Sweeper) Sweep(ctx context.Context) {
	due, err := s.runs.ListDueForTimeout(ctx, time.Now().UTC(), s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("failed to list due dag runs", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("sweeping overdue dag runs", "count", len(due))
	for i := range due {
		run := &due[i]
		affected, transitioned, err := s.scheduler.SweepDueRun(ctx, run)
		if err != nil {
			s.logger.Error("failed to sweep dag run",
				"dag_run_id", run.ID,
				"error", err,
			)
			continue
		}
		if affected == 0 && !transitioned {
			// Все команды уже решены, но run остался Running —
			// Airflow не вызвал check. Досчитываем run штатно,
			// иначе он будет попадать в выборку каждый проход.
			if _, _, err := s.scheduler.CheckCollectLights(ctx, run.AirflowDagID, run.AirflowDagRunID); err != nil {
				s.logger.Error("failed to settle completed dag run",
					"dag_run_id", run.ID,
					"error", err,
				)
			}
			continue
		}
		s.logger.Info("dag run swept",
			"dag_run_id", run.ID,
			"commands_timed_out", affected,
			"dag_transitioned", transitioned,
		)
	}
}
