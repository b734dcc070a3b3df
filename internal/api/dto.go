package api

import (
	"encoding/json"
	"time"

	"github.com/shaiso/Semaphore/internal/domain"
)

// DagRunRef — пара внешних идентификаторов run'а. Имена полей
// зафиксированы вызывающим Airflow DAG'ом.
type DagRunRef struct {
	AirflowDagID    string `json:"airflow_dag_id"`
	AirflowDagRunID string `json:"airflow_dag_run_id"`
}

// Validate проверяет обязательность обоих идентификаторов.
func (r *DagRunRef) Validate() string {
	if r.AirflowDagID == "" {
		return "airflow_dag_id is required"
	}
	if r.AirflowDagRunID == "" {
		return "airflow_dag_run_id is required"
	}
	return ""
}

// UpdateStatusRequest — тело явного override статуса run'а.
type UpdateStatusRequest struct {
	DagRunRef
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// UpdateCommandStatusRequest — тело обновления статуса команды.
type UpdateCommandStatusRequest struct {
	CommandID  string `json:"command_id"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// TriggerResponse — данные ответа на триггер.
type TriggerResponse struct {
	DagRunID string `json:"dag_run_id"`
	Status   string `json:"status"`
}

// CheckResponse — данные ответа на проверку завершённости.
// is_completed и status читает Airflow DAG; status здесь — его
// словарь ("processing"/"success"), не доменный enum.
type CheckResponse struct {
	DagRunID          string `json:"dag_run_id"`
	IsCompleted       bool   `json:"is_completed"`
	Status            string `json:"status"`
	TotalCommands     int    `json:"total_commands"`
	CompletedCommands int    `json:"completed_commands"`
}

// TimeoutResponse — данные ответа на timeout sweep. Оба имени
// зафиксированы DAG'ом.
type TimeoutResponse struct {
	TimedOutCommandsCount int  `json:"timedout_commands_count"`
	DagStatusUpdated      bool `json:"dag_status_updated"`
}

// UpdateStatusResponse — данные ответа на override статуса run'а
// или команды.
type UpdateStatusResponse struct {
	Updated bool   `json:"updated"`
	Status  string `json:"status"`
}

// SummaryRequest — тело запроса сводки. notify_to — адресаты
// уведомления, как их собирает DAG (email'ы и Teams-канал).
type SummaryRequest struct {
	DagRunRef
	NotifyTo []string `json:"notify_to"`
}

// CommandResponse — полное представление команды.
type CommandResponse struct {
	CommandID  string     `json:"command_id"`
	DagRunID   string     `json:"dag_run_id"`
	TaskType   string     `json:"task_type"`
	Status     string     `json:"status"`
	ReasonCode string     `json:"reason_code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	LightID    int        `json:"light_id"`
	CameraID   string     `json:"camera_id"`
	RetryCount int        `json:"retry_count"`
	LastRetry  *time.Time `json:"last_retry_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CommandFromDomain конвертирует domain.Command в DTO.
func CommandFromDomain(cmd *domain.Command) CommandResponse {
	return CommandResponse{
		CommandID:  cmd.ID.String(),
		DagRunID:   cmd.DagRunID.String(),
		TaskType:   cmd.TaskType,
		Status:     string(cmd.Status),
		ReasonCode: cmd.ReasonCode,
		Reason:     cmd.Reason,
		LightID:    cmd.LightID,
		CameraID:   cmd.CameraID,
		RetryCount: cmd.RetryCount,
		LastRetry:  cmd.LastRetryAt,
		CreatedAt:  cmd.CreatedAt,
		UpdatedAt:  cmd.UpdatedAt,
	}
}

// HistoryResponse — одна запись журнала результатов.
type HistoryResponse struct {
	Status     string          `json:"status"`
	ReasonCode string          `json:"reason_code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// HistoryFromDomain конвертирует domain.CommandHistory в DTO.
func HistoryFromDomain(h *domain.CommandHistory) HistoryResponse {
	return HistoryResponse{
		Status:     h.Status,
		ReasonCode: h.ReasonCode,
		Reason:     h.Reason,
		Data:       h.Data,
		ReceivedAt: h.ReceivedAt,
	}
}
