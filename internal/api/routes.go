package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Scheduler — вызывается Airflow DAG'ом
	mux.Handle("POST /v1/scheduler/trigger-collect-lights", chain(http.HandlerFunc(h.TriggerCollectLights)))
	mux.Handle("GET /v1/scheduler/check-collect-lights", chain(http.HandlerFunc(h.CheckCollectLights)))
	mux.Handle("POST /v1/scheduler/set-time-out-collect-lights", chain(http.HandlerFunc(h.SetTimeoutCollectLights)))
	mux.Handle("POST /v1/scheduler/update-dag-run-status", chain(http.HandlerFunc(h.UpdateDagRunStatus)))
	mux.Handle("POST /v1/scheduler/summary-job-and-push-notify", chain(http.HandlerFunc(h.SummaryJobAndPushNotify)))

	// Commands — отладка и callback ingestor'а
	mux.Handle("POST /v1/command/update-status", chain(http.HandlerFunc(h.UpdateCommandStatus)))
	mux.Handle("GET /v1/command/{id}", chain(http.HandlerFunc(h.GetCommand)))
	mux.Handle("GET /v1/command/{id}/history", chain(http.HandlerFunc(h.GetCommandHistory)))

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}
