package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TriggerResponse — результат триггера сбора.
type TriggerResponse struct {
	DagRunID string `json:"dag_run_id"`
	Status   string `json:"status"`
}

// CheckResponse — результат проверки завершённости.
type CheckResponse struct {
	DagRunID          string `json:"dag_run_id"`
	IsCompleted       bool   `json:"is_completed"`
	Status            string `json:"status"`
	TotalCommands     int    `json:"total_commands"`
	CompletedCommands int    `json:"completed_commands"`
}

// TimeoutResponse — результат timeout sweep.
type TimeoutResponse struct {
	TimedOutCommandsCount int  `json:"timedout_commands_count"`
	DagStatusUpdated      bool `json:"dag_status_updated"`
}

// UpdateStatusResponse — результат override статуса run'а или команды.
type UpdateStatusResponse struct {
	Updated bool   `json:"updated"`
	Status  string `json:"status"`
}

// SummaryResponse — итоговая сводка run'а.
type SummaryResponse struct {
	DagID             string  `json:"dag_id"`
	DagRunID          string  `json:"dag_run_id"`
	Status            string  `json:"status"`
	Duration          string  `json:"duration"`
	TotalCommands     int     `json:"total_commands"`
	CompletedCommands int     `json:"completed_commands"`
	ErrorCommands     int     `json:"error_commands"`
	TimeoutCommands   int     `json:"timeout_commands"`
	SuccessRate       float64 `json:"success_rate"`
}

// CommandResponse — команда из API.
type CommandResponse struct {
	CommandID  string `json:"command_id"`
	DagRunID   string `json:"dag_run_id"`
	TaskType   string `json:"task_type"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
	LightID    int    `json:"light_id"`
	CameraID   string `json:"camera_id"`
	RetryCount int    `json:"retry_count"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// HistoryResponse — запись журнала результатов.
type HistoryResponse struct {
	Status     string          `json:"status"`
	ReasonCode string          `json:"reason_code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt string          `json:"received_at"`
}

// --- Request types ---

type dagRunRef struct {
	AirflowDagID    string `json:"airflow_dag_id"`
	AirflowDagRunID string `json:"airflow_dag_run_id"`
}

type updateStatusRequest struct {
	dagRunRef
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type summaryRequest struct {
	dagRunRef
	NotifyTo []string `json:"notify_to,omitempty"`
}

type updateCommandStatusRequest struct {
	CommandID  string `json:"command_id"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// --- API envelope ---

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// --- Client ---

// Client — HTTP-клиент для Semaphore API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Scheduler ---

// Trigger запускает сбор данных по светофорам.
func (c *Client) Trigger(dagID, dagRunID string) (*TriggerResponse, error) {
	var result TriggerResponse
	err := c.post("/v1/scheduler/trigger-collect-lights", dagRunRef{dagID, dagRunID}, &result)
	return &result, err
}

// Check проверяет завершённость run'а.
func (c *Client) Check(dagID, dagRunID string) (*CheckResponse, error) {
	params := url.Values{}
	params.Set("airflow_dag_id", dagID)
	params.Set("airflow_dag_run_id", dagRunID)

	var result CheckResponse
	err := c.get("/v1/scheduler/check-collect-lights?"+params.Encode(), &result)
	return &result, err
}

// SetTimeout гасит зависшие команды run'а.
func (c *Client) SetTimeout(dagID, dagRunID string) (*TimeoutResponse, error) {
	var result TimeoutResponse
	err := c.post("/v1/scheduler/set-time-out-collect-lights", dagRunRef{dagID, dagRunID}, &result)
	return &result, err
}

// UpdateStatus — явный override статуса run'а.
func (c *Client) UpdateStatus(dagID, dagRunID, status, reason string) (*UpdateStatusResponse, error) {
	req := updateStatusRequest{
		dagRunRef: dagRunRef{dagID, dagRunID},
		Status:    status,
		Reason:    reason,
	}
	var result UpdateStatusResponse
	err := c.post("/v1/scheduler/update-dag-run-status", req, &result)
	return &result, err
}

// Summary собирает сводку run'а и рассылает уведомление адресатам.
func (c *Client) Summary(dagID, dagRunID string, notifyTo []string) (*SummaryResponse, error) {
	req := summaryRequest{
		dagRunRef: dagRunRef{dagID, dagRunID},
		NotifyTo:  notifyTo,
	}
	var result SummaryResponse
	err := c.post("/v1/scheduler/summary-job-and-push-notify", req, &result)
	return &result, err
}

// --- Commands ---

// GetCommand возвращает команду по correlation id.
func (c *Client) GetCommand(id string) (*CommandResponse, error) {
	var result CommandResponse
	err := c.get("/v1/command/"+id, &result)
	return &result, err
}

// CommandHistory возвращает журнал результатов команды.
func (c *Client) CommandHistory(id string) ([]HistoryResponse, error) {
	var result []HistoryResponse
	err := c.get("/v1/command/"+id+"/history", &result)
	return result, err
}

// UpdateCommandStatus обновляет статус команды.
func (c *Client) UpdateCommandStatus(id, status, reasonCode, reason string) (*UpdateStatusResponse, error) {
	req := updateCommandStatusRequest{
		CommandID:  id,
		Status:     status,
		ReasonCode: reasonCode,
		Reason:     reason,
	}
	var result UpdateStatusResponse
	err := c.post("/v1/command/update-status", req, &result)
	return &result, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if env.Code != 0 {
		return fmt.Errorf("API error %d: %s", env.Code, env.Msg)
	}

	if result != nil && env.Data != nil {
		return json.Unmarshal(env.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
