package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
)

// UpdateCommandStatus обновляет статус команды по correlation id.
// POST /v1/command/update-status
//
// Сюда же постит ingestor, если настроен callback. Обновление
// guarded: терминальную команду не перезаписывает.
func (h *Handler) UpdateCommandStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateCommandStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	id, err := uuid.Parse(req.CommandID)
	if err != nil {
		BadRequest(w, "invalid command_id")
		return
	}

	status, err := domain.ParseCommandStatus(req.Status)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	if err := h.commands.UpdateResult(r.Context(), id, status, req.ReasonCode, req.Reason, true); err != nil {
		HandleServiceError(w, h.logger, err)
		return
	}

	Success(w, UpdateStatusResponse{
		Updated: true,
		Status:  string(status),
	})
}

// GetCommand возвращает команду по correlation id.
// GET /v1/command/{id}
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid command id")
		return
	}

	cmd, err := h.commands.GetByID(r.Context(), id)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	Success(w, CommandFromDomain(cmd))
}

// GetCommandHistory возвращает журнал результатов команды.
// GET /v1/command/{id}/history
func (h *Handler) GetCommandHistory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid command id")
		return
	}

	// Команда должна существовать, иначе 404.
	if _, err := h.commands.GetByID(r.Context(), id); HandleServiceError(w, h.logger, err) {
		return
	}

	items, err := h.history.ListByCommand(r.Context(), id)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	result := make([]HistoryResponse, len(items))
	for i := range items {
		result[i] = HistoryFromDomain(&items[i])
	}
	Success(w, result)
}
