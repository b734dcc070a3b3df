package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandHistory — append-only журнал полученных результатов.
//
// Одна запись на каждое входящее событие, независимо от того, изменило
// ли оно текущее состояние команды. Дубликаты и поздние результаты тоже
// попадают сюда — журнал фиксирует факт доставки, а не итог.
// Записи никогда не изменяются и не удаляются.
type CommandHistory struct {
	// ID — идентификатор записи журнала.
	ID uuid.UUID `json:"id"`

	// CommandID — correlation id команды, к которой относится результат.
	CommandID uuid.UUID `json:"command_id"`

	// DagRunID — родительский run (денормализация для выборок по run).
	DagRunID uuid.UUID `json:"dag_run_id"`

	// LightID — светофор из результата.
	LightID int `json:"light_id"`

	// Status/ReasonCode/Reason — как пришли в событии, до маппинга.
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// Data — сырой timing-блок результата (если был).
	Data json.RawMessage `json:"data,omitempty"`

	// ReceivedAt — время приёма события.
	ReceivedAt time.Time `json:"received_at"`
}
