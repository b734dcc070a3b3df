package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/repo"
)

// DefaultDagTimeout — дедлайн run'а по умолчанию. За час pipeline либо
// обработает все камеры, либо уже не обработает.
const DefaultDagTimeout = time.Hour

// DagRunStore — нужные scheduler'у операции над dag runs.
// Реализуется repo.DagRunRepo; в тестах — in-memory фейком.
type DagRunStore interface {
	Create(ctx context.Context, run *domain.DagRun) error
	GetByAirflowIDs(ctx context.Context, dagID, dagRunID string) (*domain.DagRun, error)
	Update(ctx context.Context, run *domain.DagRun) error
}

// CommandStore — нужные scheduler'у операции над commands.
// Реализуется repo.CommandRepo.
type CommandStore interface {
	CreateBatch(ctx context.Context, commands []*domain.Command) error
	ListByDagRun(ctx context.Context, dagRunID uuid.UUID) ([]domain.Command, error)
	ListPendingOrRunning(ctx context.Context, dagRunID uuid.UUID) ([]domain.Command, error)
	CountPendingOrRunning(ctx context.Context, dagRunID uuid.UUID) (int, error)
	CountByStatus(ctx context.Context, dagRunID uuid.UUID, status domain.CommandStatus) (int, error)
	TimeoutMany(ctx context.Context, ids []uuid.UUID, reasonCode, reason string) (int, error)
}

// LightCatalog — каталог целей fan-out.
// Реализуется lights.Catalog.
type LightCatalog interface {
	ListMainLights(ctx context.Context) ([]domain.Light, error)
}

// JobPublisher публикует команды на сбор в шину.
// Реализуется mq.Publisher.
type JobPublisher interface {
	PublishCollection(ctx context.Context, msg *mq.CollectionMessage) error
}

// Notifier рассылает итоговую сводку run'а. notifyTo — адресаты,
// как их передал вызывающий DAG (email'ы и/или имя Teams-канала).
// Реализуется notify.Teams; nil — уведомления выключены.
type Notifier interface {
	SendJobSummary(ctx context.Context, summary *Summary, notifyTo []string) error
}

// Config — конфигурация scheduler-сервиса.
type Config struct {
	// DagTimeout — через сколько Running run становится кандидатом
	// на timeout sweep. 0 → DefaultDagTimeout.
	DagTimeout time.Duration
}

// Service — сервис жизненного цикла dag run'ов.
type Service struct {
	dagRuns  DagRunStore
	commands CommandStore
	lights   LightCatalog
	bus      JobPublisher
	notifier Notifier
	logger   *slog.Logger

	dagTimeout time.Duration
}

// NewService создаёт scheduler-сервис.
func NewService(
	dagRuns DagRunStore,
	commands CommandStore,
	lights LightCatalog,
	bus JobPublisher,
	notifier Notifier,
	logger *slog.Logger,
	cfg Config,
) *Service {
	timeout := cfg.DagTimeout
	if timeout <= 0 {
		timeout = DefaultDagTimeout
	}
	return &Service{
		dagRuns:    dagRuns,
		commands:   commands,
		lights:     lights,
		bus:        bus,
		notifier:   notifier,
		logger:     logger,
		dagTimeout: timeout,
	}
}

// TriggerCollectLights — идемпотентный запуск сбора.
//
// Пара (dagID, dagRunID) — ключ идемпотентности: если run с ней уже
// есть, возвращается его id без нового fan-out, в каком бы статусе он
// ни был. Гонку конкурирующих триггеров решает уникальный индекс БД:
// проигравший Create получает ErrAlreadyExists и перечитывает run
// победителя.
func (s *Service) TriggerCollectLights(ctx context.Context, dagID, dagRunID string) (*domain.DagRun, error) {
	existing, err := s.dagRuns.GetByAirflowIDs(ctx, dagID, dagRunID)
	if err == nil {
		s.logger.Info("dag run already exists, skipping fan-out",
			"airflow_dag_id", dagID,
			"airflow_dag_run_id", dagRunID,
			"dag_run_id", existing.ID,
			"status", existing.Status,
		)
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("lookup dag run: %w", err)
	}

	now := time.Now().UTC()
	run := &domain.DagRun{
		ID:              uuid.New(),
		AirflowDagID:    dagID,
		AirflowDagRunID: dagRunID,
		AirflowTaskID:   domain.DefaultTaskID,
		Status:          domain.DagRunStatusRunning,
		ExecutionDate:   now,
		StartTime:       now,
		TimeoutAt:       now.Add(s.dagTimeout),
	}

	// Run вставляется до fan-out: именно вставка, а не рассылка,
	// арбитрирует дубликаты. Обратная сторона: сбой ниже по ходу
	// оставляет Running run без команд, и повторный trigger вернёт
	// его как есть — такой run добирает только timeout sweep.
	if err := s.dagRuns.Create(ctx, run); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			winner, getErr := s.dagRuns.GetByAirflowIDs(ctx, dagID, dagRunID)
			if getErr != nil {
				return nil, fmt.Errorf("refetch dag run after conflict: %w", getErr)
			}
			s.logger.Info("lost trigger race, returning winner",
				"airflow_dag_id", dagID,
				"airflow_dag_run_id", dagRunID,
				"dag_run_id", winner.ID,
			)
			return winner, nil
		}
		return nil, fmt.Errorf("create dag run: %w", err)
	}

	lights, err := s.lights.ListMainLights(ctx)
	if err != nil {
		return nil, fmt.Errorf("list main lights: %w", err)
	}
	if len(lights) == 0 {
		return nil, ErrNoLights
	}

	commands, err := s.dispatch(ctx, run, lights)
	if err != nil {
		return nil, err
	}

	run.TotalCommands = len(commands)
	run.TotalLights = len(commands)
	if err := s.dagRuns.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("save dag run counters: %w", err)
	}

	s.logger.Info("dag run triggered",
		"dag_run_id", run.ID,
		"airflow_dag_id", dagID,
		"airflow_dag_run_id", dagRunID,
		"commands", len(commands),
		"lights_skipped", len(lights)-len(commands),
	)
	return run, nil
}

// CheckCollectLights проверяет завершённость run'а.
//
// Run завершён, когда ни одна его команда не висит в Pending/Running.
// При первом обнаружении завершённости run переводится в Success
// (если он ещё не Success) и счётчики пересчитываются; повторные
// вызовы после этого ничего не пишут.
func (s *Service) CheckCollectLights(ctx context.Context, dagID, dagRunID string) (bool, *domain.DagRun, error) {
	run, err := s.getRun(ctx, dagID, dagRunID)
	if err != nil {
		return false, nil, err
	}

	pending, err := s.commands.CountPendingOrRunning(ctx, run.ID)
	if err != nil {
		return false, nil, fmt.Errorf("count pending commands: %w", err)
	}
	if pending > 0 {
		return false, run, nil
	}

	if run.Status != domain.DagRunStatusSuccess {
		if err := s.settleRun(ctx, run); err != nil {
			return true, nil, err
		}
	}
	return true, run, nil
}

// settleRun переводит run в Success и пересчитывает счётчики по
// фактическому состоянию команд.
func (s *Service) settleRun(ctx context.Context, run *domain.DagRun) error {
	completed, err := s.commands.CountByStatus(ctx, run.ID, domain.CommandStatusCompleted)
	if err != nil {
		return fmt.Errorf("count completed commands: %w", err)
	}

	run.CompletedCommands = completed
	run.ProcessedLights = completed
	run.MarkSuccess(time.Now().UTC())

	if err := s.dagRuns.Update(ctx, run); err != nil {
		return fmt.Errorf("settle dag run: %w", err)
	}

	s.logger.Info("dag run settled",
		"dag_run_id", run.ID,
		"completed", completed,
		"total", run.TotalCommands,
	)
	return nil
}

// UpdateDagRunStatus — явный override статуса run'а внешним вызовом.
//
// Статус вне закрытого множества → ErrInvalidStatus. Переход в тот же
// статус — no-op, запись не трогается. Терминальный статус фиксирует
// EndTime (один раз); reason пишется в last_reason с отметкой времени.
func (s *Service) UpdateDagRunStatus(ctx context.Context, dagID, dagRunID, statusRaw, reason string) (*domain.DagRun, error) {
	status, err := domain.ParseDagRunStatus(statusRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, statusRaw)
	}

	run, err := s.getRun(ctx, dagID, dagRunID)
	if err != nil {
		return nil, err
	}

	if run.Status == status {
		return run, nil
	}

	prev := run.Status
	run.MarkStatus(status, reason, time.Now().UTC())
	if err := s.dagRuns.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("update dag run status: %w", err)
	}

	s.logger.Info("dag run status overridden",
		"dag_run_id", run.ID,
		"from", prev,
		"to", status,
		"reason", reason,
	)
	return run, nil
}

// getRun находит run по airflow-идентификаторам, мапя отсутствие
// в ErrRunNotFound.
func (s *Service) getRun(ctx context.Context, dagID, dagRunID string) (*domain.DagRun, error) {
	run, err := s.dagRuns.GetByAirflowIDs(ctx, dagID, dagRunID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup dag run: %w", err)
	}
	return run, nil
}
