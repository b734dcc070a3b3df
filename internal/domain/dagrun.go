package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTaskID — имя Airflow task'а, от лица которого рассылаются команды.
const DefaultTaskID = "Start_Collect_TrafficLight"

// DagRun — один экземпляр внешнего Airflow-триггера.
//
// Создаётся по (airflow_dag_id, airflow_dag_run_id) — пара уникальна,
// повторный триггер с теми же идентификаторами возвращает существующий
// run и не порождает новый fan-out.
type DagRun struct {
	// ID — внутренний идентификатор run.
	ID uuid.UUID `json:"id"`

	// AirflowDagID и AirflowDagRunID — идентификаторы внешнего
	// оркестратора. Больше ничего из Airflow не потребляется.
	AirflowDagID    string `json:"airflow_dag_id"`
	AirflowDagRunID string `json:"airflow_dag_run_id"`

	// AirflowTaskID — task, породивший рассылку.
	AirflowTaskID string `json:"airflow_task_id"`

	// Status — текущий статус run.
	Status DagRunStatus `json:"status"`

	// ExecutionDate — дата исполнения по Airflow.
	ExecutionDate time.Time `json:"execution_date"`

	// StartTime — начало run.
	StartTime time.Time `json:"start_time"`

	// EndTime — момент перехода в терминальный статус.
	// Ставится ровно один раз. Nil, пока run выполняется.
	EndTime *time.Time `json:"end_time,omitempty"`

	// TimeoutAt — дедлайн, после которого sweep переводит run в Timeout.
	// Сам по себе ничего не делает: его читает sweeper или внешний вызов.
	TimeoutAt time.Time `json:"timeout_at"`

	// TotalCommands фиксируется при создании и дальше не меняется.
	TotalCommands     int `json:"total_commands"`
	CompletedCommands int `json:"completed_commands"`

	// TotalLights/ProcessedLights — счётчики по светофорам.
	TotalLights     int `json:"total_lights"`
	ProcessedLights int `json:"processed_lights"`

	// LastReason/LastReasonAt — аудит последнего явного изменения статуса.
	// Перезаписываются, не накапливаются.
	LastReason   string     `json:"last_reason,omitempty"`
	LastReasonAt *time.Time `json:"last_reason_at,omitempty"`
}

// Duration возвращает продолжительность run.
// Для незавершённого run считает от StartTime до now.
func (d *DagRun) Duration(now time.Time) time.Duration {
	if d.EndTime != nil {
		return d.EndTime.Sub(d.StartTime)
	}
	return now.Sub(d.StartTime)
}

// IsFinished возвращает true, если run в терминальном статусе.
func (d *DagRun) IsFinished() bool {
	return d.Status.IsTerminal()
}

// MarkSuccess переводит run в Success. EndTime ставится только если пуст.
func (d *DagRun) MarkSuccess(now time.Time) {
	d.Status = DagRunStatusSuccess
	if d.EndTime == nil {
		d.EndTime = &now
	}
}

// MarkTimeout переводит run в Timeout.
func (d *DagRun) MarkTimeout(now time.Time) {
	d.Status = DagRunStatusTimeout
	if d.EndTime == nil {
		d.EndTime = &now
	}
}

// MarkStatus выставляет произвольный статус из закрытого множества.
// Для терминальных статусов фиксирует EndTime, если он ещё не стоит.
func (d *DagRun) MarkStatus(status DagRunStatus, reason string, now time.Time) {
	d.Status = status
	if status.IsTerminal() && d.EndTime == nil {
		d.EndTime = &now
	}
	if reason != "" {
		d.LastReason = reason
		d.LastReasonAt = &now
	}
}
