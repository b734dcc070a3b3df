package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Semaphore/internal/repo"
	"github.com/shaiso/Semaphore/internal/scheduler"
)

// Envelope — конверт ответа API. Потребители проверяют Code, а не
// HTTP статус: 0 — успех, иначе код дублирует HTTP статус.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// Success отправляет успешный конверт с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, Envelope{Code: 0, Msg: "success", Data: data})
}

// Fail отправляет ошибочный конверт. Code повторяет HTTP статус.
func Fail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, Envelope{Code: status, Msg: msg})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, msg string) {
	Fail(w, http.StatusBadRequest, msg)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, msg string) {
	Fail(w, http.StatusNotFound, msg)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Fail(w, http.StatusInternalServerError, "internal server error")
}

// HandleServiceError преобразует ошибку сервиса в HTTP ответ.
// Возвращает true, если ответ уже записан.
func HandleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, scheduler.ErrRunNotFound):
		NotFound(w, "dag run not found")
	case errors.Is(err, scheduler.ErrInvalidStatus):
		BadRequest(w, err.Error())
	case errors.Is(err, scheduler.ErrNoLights):
		BadRequest(w, "no main lights in catalog")
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, "not found")
	case errors.Is(err, repo.ErrInvalidState):
		Fail(w, http.StatusUnprocessableEntity, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
