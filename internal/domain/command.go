package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandPayload — полезная нагрузка команды, как она уходит в БД.
// Дублирует ключевые поля bus-сообщения для отладки без брокера.
type CommandPayload struct {
	LightID      int    `json:"light_id"`
	CameraID     string `json:"camera_id"`
	CameraSource string `json:"camera_source,omitempty"`
	CameraURL    string `json:"camera_url"`
}

// Command — одна отправленная единица работы, по одному светофору.
//
// ID команды — это и есть correlation id (SeqId): он уходит в bus-сообщении
// и возвращается в асинхронном результате. Глобально уникален.
type Command struct {
	// ID — correlation id команды.
	ID uuid.UUID `json:"id"`

	// DagRunID — ссылка на родительский run.
	DagRunID uuid.UUID `json:"dag_run_id"`

	// TaskType — тип работы (копия AirflowTaskID родителя).
	TaskType string `json:"task_type"`

	// Status — текущий статус.
	Status CommandStatus `json:"status"`

	// ReasonCode/Reason — последний код и текст причины из результата.
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// LightID — светофор, по которому собираются данные.
	LightID int `json:"light_id"`

	// CameraID — камера, с которой снимается видео.
	CameraID string `json:"camera_id"`

	// Payload — содержимое отправленной команды.
	Payload CommandPayload `json:"payload"`

	// RetryCount/LastRetryAt — учёт повторов на стороне pipeline.
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCommand создаёт Pending-команду для светофора внутри run.
func NewCommand(dagRun *DagRun, light *Light, now time.Time) *Command {
	return &Command{
		ID:       uuid.New(),
		DagRunID: dagRun.ID,
		TaskType: dagRun.AirflowTaskID,
		Status:   CommandStatusPending,
		LightID:  light.ID,
		CameraID: light.CameraID,
		Payload: CommandPayload{
			LightID:      light.ID,
			CameraID:     light.CameraID,
			CameraSource: light.CameraSourceID,
			CameraURL:    light.CameraLiveURL,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyResult перезаписывает текущее состояние команды результатом.
// Retry дополнительно инкрементирует счётчик повторов.
func (c *Command) ApplyResult(status CommandStatus, reasonCode, reason string, now time.Time) {
	c.Status = status
	c.ReasonCode = reasonCode
	c.Reason = reason
	c.UpdatedAt = now

	if status == CommandStatusRetry {
		c.RetryCount++
		c.LastRetryAt = &now
	}
}
