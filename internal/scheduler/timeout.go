package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
)

// Причина, проставляемая командам при timeout sweep.
const (
	TimeoutReasonCode = "SYS_TIMEOUT"
	TimeoutReason     = "Command timed out by scheduler"
)

// SetTimeoutForPendingCommands переводит все незавершённые команды
// run'а в Timeout.
//
// Если незавершённых команд нет, операция ничего не пишет и возвращает
// (0, false). Иначе команды гасятся одним bulk-запросом, а Running run
// переводится в Timeout с пересчётом счётчиков; повторный sweep после
// частичного сбоя сходится к тому же состоянию.
func (s *Service) SetTimeoutForPendingCommands(ctx context.Context, dagID, dagRunID string) (int, bool, error) {
	run, err := s.getRun(ctx, dagID, dagRunID)
	if err != nil {
		return 0, false, err
	}
	return s.sweepRun(ctx, run)
}

// SweepDueRun — то же самое для уже загруженного run'а (путь sweeper'а).
func (s *Service) SweepDueRun(ctx context.Context, run *domain.DagRun) (int, bool, error) {
	return s.sweepRun(ctx, run)
}

func (s *Service) sweepRun(ctx context.Context, run *domain.DagRun) (int, bool, error) {
	stuck, err := s.commands.ListPendingOrRunning(ctx, run.ID)
	if err != nil {
		return 0, false, fmt.Errorf("list pending commands: %w", err)
	}
	if len(stuck) == 0 {
		return 0, false, nil
	}

	ids := make([]uuid.UUID, len(stuck))
	for i := range stuck {
		ids[i] = stuck[i].ID
	}

	affected, err := s.commands.TimeoutMany(ctx, ids, TimeoutReasonCode, TimeoutReason)
	if err != nil {
		return 0, false, fmt.Errorf("timeout commands: %w", err)
	}

	dagTransitioned := false
	if run.Status == domain.DagRunStatusRunning {
		completed, err := s.commands.CountByStatus(ctx, run.ID, domain.CommandStatusCompleted)
		if err != nil {
			return affected, false, fmt.Errorf("count completed commands: %w", err)
		}
		run.CompletedCommands = completed
		run.ProcessedLights = completed
		run.MarkStatus(domain.DagRunStatusTimeout, TimeoutReason, time.Now().UTC())

		if err := s.dagRuns.Update(ctx, run); err != nil {
			return affected, false, fmt.Errorf("mark dag run timeout: %w", err)
		}
		dagTransitioned = true
	}

	s.logger.Warn("timed out stuck commands",
		"dag_run_id", run.ID,
		"commands", affected,
		"dag_transitioned", dagTransitioned,
	)
	return affected, dagTransitioned, nil
}
