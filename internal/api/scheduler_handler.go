package api

import (
	"encoding/json"
	"net/http"
)

// TriggerCollectLights запускает сбор данных по всем главным светофорам.
// POST /v1/scheduler/trigger-collect-lights
//
// Идемпотентен: повторный вызов с той же парой идентификаторов
// возвращает существующий run без нового fan-out.
func (h *Handler) TriggerCollectLights(w http.ResponseWriter, r *http.Request) {
	var req DagRunRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if msg := req.Validate(); msg != "" {
		BadRequest(w, msg)
		return
	}

	run, err := h.scheduler.TriggerCollectLights(r.Context(), req.AirflowDagID, req.AirflowDagRunID)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	Success(w, TriggerResponse{
		DagRunID: run.ID.String(),
		Status:   string(run.Status),
	})
}

// CheckCollectLights проверяет завершённость run'а.
// GET /v1/scheduler/check-collect-lights?airflow_dag_id=...&airflow_dag_run_id=...
func (h *Handler) CheckCollectLights(w http.ResponseWriter, r *http.Request) {
	ref := refFromQuery(r)
	if msg := ref.Validate(); msg != "" {
		BadRequest(w, msg)
		return
	}

	allDone, run, err := h.scheduler.CheckCollectLights(r.Context(), ref.AirflowDagID, ref.AirflowDagRunID)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	status := "processing"
	if allDone {
		status = "success"
	}
	Success(w, CheckResponse{
		DagRunID:          run.ID.String(),
		IsCompleted:       allDone,
		Status:            status,
		TotalCommands:     run.TotalCommands,
		CompletedCommands: run.CompletedCommands,
	})
}

// SetTimeoutCollectLights гасит зависшие команды run'а.
// POST /v1/scheduler/set-time-out-collect-lights
func (h *Handler) SetTimeoutCollectLights(w http.ResponseWriter, r *http.Request) {
	var req DagRunRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if msg := req.Validate(); msg != "" {
		BadRequest(w, msg)
		return
	}

	affected, transitioned, err := h.scheduler.SetTimeoutForPendingCommands(r.Context(), req.AirflowDagID, req.AirflowDagRunID)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	Success(w, TimeoutResponse{
		TimedOutCommandsCount: affected,
		DagStatusUpdated:      transitioned,
	})
}

// UpdateDagRunStatus — явный override статуса run'а.
// POST /v1/scheduler/update-dag-run-status
func (h *Handler) UpdateDagRunStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if msg := req.Validate(); msg != "" {
		BadRequest(w, msg)
		return
	}
	if req.Status == "" {
		BadRequest(w, "status is required")
		return
	}

	run, err := h.scheduler.UpdateDagRunStatus(r.Context(), req.AirflowDagID, req.AirflowDagRunID, req.Status, req.Reason)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	Success(w, UpdateStatusResponse{
		Updated: true,
		Status:  string(run.Status),
	})
}

// SummaryJobAndPushNotify собирает сводку run'а и рассылает уведомление.
// POST /v1/scheduler/summary-job-and-push-notify
func (h *Handler) SummaryJobAndPushNotify(w http.ResponseWriter, r *http.Request) {
	var req SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if msg := req.Validate(); msg != "" {
		BadRequest(w, msg)
		return
	}

	summary, err := h.scheduler.SummarizeAndNotify(r.Context(), req.AirflowDagID, req.AirflowDagRunID, req.NotifyTo)
	if HandleServiceError(w, h.logger, err) {
		return
	}

	Success(w, summary)
}

// refFromQuery читает пару идентификаторов из query-параметров.
func refFromQuery(r *http.Request) DagRunRef {
	q := r.URL.Query()
	return DagRunRef{
		AirflowDagID:    q.Get("airflow_dag_id"),
		AirflowDagRunID: q.Get("airflow_dag_run_id"),
	}
}
