package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/scheduler"
)

// SchedulerService — операции scheduler'а, нужные HTTP-слою.
// Реализуется scheduler.Service.
type SchedulerService interface {
	TriggerCollectLights(ctx context.Context, dagID, dagRunID string) (*domain.DagRun, error)
	CheckCollectLights(ctx context.Context, dagID, dagRunID string) (bool, *domain.DagRun, error)
	SetTimeoutForPendingCommands(ctx context.Context, dagID, dagRunID string) (int, bool, error)
	UpdateDagRunStatus(ctx context.Context, dagID, dagRunID, status, reason string) (*domain.DagRun, error)
	SummarizeAndNotify(ctx context.Context, dagID, dagRunID string, notifyTo []string) (*scheduler.Summary, error)
}

// CommandReader — чтение и точечное обновление команд.
// Реализуется repo.CommandRepo.
type CommandReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Command, error)
	UpdateResult(ctx context.Context, id uuid.UUID, status domain.CommandStatus, reasonCode, reason string, guarded bool) error
}

// HistoryReader — чтение журнала результатов.
// Реализуется repo.CommandHistoryRepo.
type HistoryReader interface {
	ListByCommand(ctx context.Context, commandID uuid.UUID) ([]domain.CommandHistory, error)
}

// Handler — HTTP обработчики API.
type Handler struct {
	scheduler SchedulerService
	commands  CommandReader
	history   HistoryReader
	logger    *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(sched SchedulerService, commands CommandReader, history HistoryReader, logger *slog.Logger) *Handler {
	return &Handler{
		scheduler: sched,
		commands:  commands,
		history:   history,
		logger:    logger,
	}
}
