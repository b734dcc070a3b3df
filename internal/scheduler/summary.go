package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/Semaphore/internal/domain"
)

// Summary — итоговая сводка по run'у. Имена полей повторяют контракт
// потребителей сводки (Airflow-отчёт и карточка уведомления).
type Summary struct {
	DagID         string     `json:"dag_id"`
	DagRunID      string     `json:"dag_run_id"`
	Status        string     `json:"status"`
	ExecutionDate time.Time  `json:"execution_date"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`

	// Duration — продолжительность run'а, для незавершённого — от
	// старта до момента сборки сводки.
	Duration string `json:"duration"`

	TotalLights     int `json:"total_lights"`
	ProcessedLights int `json:"processed_lights"`

	TotalCommands     int `json:"total_commands"`
	CompletedCommands int `json:"completed_commands"`
	ErrorCommands     int `json:"error_commands"`
	TimeoutCommands   int `json:"timeout_commands"`

	// SuccessRate — процент завершённых команд; 0 для run'а без команд.
	SuccessRate float64 `json:"success_rate"`

	ErrorDetails []ErrorDetail `json:"error_details"`
}

// ErrorDetail — одна неуспешная команда в сводке.
type ErrorDetail struct {
	LightID        int    `json:"traffic_light_id"`
	CameraID       string `json:"camera_id"`
	CameraSourceID string `json:"camera_source_id"`
	Status         string `json:"status"`
	ReasonCode     string `json:"reason_code,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// SummarizeAndNotify собирает сводку run'а и отдаёт её notifier'у
// вместе со списком адресатов из запроса.
//
// Сводка считается по фактическому состоянию команд, а не по счётчикам
// run'а. Сбой notifier'а не роняет операцию: сводка всё равно
// возвращается, ошибка уходит в лог.
func (s *Service) SummarizeAndNotify(ctx context.Context, dagID, dagRunID string, notifyTo []string) (*Summary, error) {
	run, err := s.getRun(ctx, dagID, dagRunID)
	if err != nil {
		return nil, err
	}

	commands, err := s.commands.ListByDagRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}

	summary := buildSummary(run, commands, time.Now().UTC())

	if s.notifier != nil {
		if err := s.notifier.SendJobSummary(ctx, summary, notifyTo); err != nil {
			s.logger.Error("failed to send job summary",
				"dag_run_id", run.ID,
				"error", err,
			)
		}
	}
	return summary, nil
}

// buildSummary агрегирует команды run'а в Summary.
func buildSummary(run *domain.DagRun, commands []domain.Command, now time.Time) *Summary {
	summary := &Summary{
		DagID:         run.AirflowDagID,
		DagRunID:      run.AirflowDagRunID,
		Status:        string(run.Status),
		ExecutionDate: run.ExecutionDate,
		StartTime:     run.StartTime,
		EndTime:       run.EndTime,
		Duration:      run.Duration(now).Round(time.Second).String(),
		TotalLights:   run.TotalLights,
		TotalCommands: len(commands),
		ErrorDetails:  []ErrorDetail{},
	}

	// Pending/Running/Retry — ещё не исход: такие команды не попадают
	// ни в buckets, ни в error_details.
	for i := range commands {
		cmd := &commands[i]
		switch cmd.Status {
		case domain.CommandStatusCompleted:
			summary.CompletedCommands++
		case domain.CommandStatusTimeout:
			summary.TimeoutCommands++
		case domain.CommandStatusFailed:
			summary.ErrorCommands++
		}

		if cmd.Status == domain.CommandStatusFailed || cmd.Status == domain.CommandStatusTimeout {
			summary.ErrorDetails = append(summary.ErrorDetails, ErrorDetail{
				LightID:        cmd.LightID,
				CameraID:       cmd.CameraID,
				CameraSourceID: cmd.Payload.CameraSource,
				Status:         string(cmd.Status),
				ReasonCode:     cmd.ReasonCode,
				Reason:         cmd.Reason,
			})
		}
	}

	summary.ProcessedLights = summary.CompletedCommands
	if summary.TotalCommands > 0 {
		summary.SuccessRate = float64(summary.CompletedCommands) / float64(summary.TotalCommands) * 100
	}
	return summary
}
