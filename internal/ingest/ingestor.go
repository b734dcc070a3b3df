// Package ingest принимает асинхронные результаты анализа из шины.
//
// Доставка at-least-once: ingest обязан переживать дубликаты, поздние
// сообщения и произвольный порядок. Каждый результат сначала пишется
// в append-only журнал, затем применяется к команде; результат по
// неизвестному SeqId — сирота, он логируется и отбрасывается.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/mq"
	"github.com/shaiso/Semaphore/internal/repo"
	"github.com/shaiso/Semaphore/internal/telemetry"
)

// CommandStore — нужные ingest'у операции над commands.
// Реализуется repo.CommandRepo.
type CommandStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Command, error)
	UpdateResult(ctx context.Context, id uuid.UUID, status domain.CommandStatus, reasonCode, reason string, guarded bool) error
}

// HistoryStore — журнал принятых результатов.
// Реализуется repo.CommandHistoryRepo.
type HistoryStore interface {
	Create(ctx context.Context, h *domain.CommandHistory) error
}

// ErrorNotifier уведомляет об ошибке анализа по команде.
// Реализуется notify.Teams; nil — уведомления выключены.
type ErrorNotifier interface {
	SendCommandError(ctx context.Context, cmd *domain.Command) error
}

// Config — конфигурация ingestor'а.
type Config struct {
	// AllowOverwrite отключает guard терминальных статусов и
	// воспроизводит last-writer-wins: поздний результат перезапишет
	// уже решённую команду.
	AllowOverwrite bool

	// CallbackURL — если задан, каждый применённый результат
	// дублируется POST'ом на этот адрес (внутренний endpoint
	// обновления статуса команды).
	CallbackURL string
}

// Ingestor применяет результаты pipeline к командам.
type Ingestor struct {
	commands CommandStore
	history  HistoryStore
	notifier ErrorNotifier
	logger   *slog.Logger
	cfg      Config

	httpClient *http.Client
}

// NewIngestor создаёт Ingestor.
func NewIngestor(commands CommandStore, history HistoryStore, notifier ErrorNotifier, logger *slog.Logger, cfg Config) *Ingestor {
	return &Ingestor{
		commands: commands,
		history:  history,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Handle — обработчик тела сообщения для mq.Consumer.
//
// Возвращаемые значения согласованы с семантикой ack:
//   - nil                — ack (включая отброшенных сирот и поздние дубликаты)
//   - mq.ErrReject       — nack без requeue, сообщение в DLQ
//   - любая другая ошибка — nack с requeue, повтор
func (i *Ingestor) Handle(ctx context.Context, body []byte) error {
	var msg mq.ResultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: malformed result: %v", mq.ErrReject, err)
	}

	commandID, err := uuid.Parse(msg.SeqID)
	if err != nil {
		return fmt.Errorf("%w: bad SeqId %q: %v", mq.ErrReject, msg.SeqID, err)
	}

	logger := telemetry.WithCommandID(i.logger, msg.SeqID)

	cmd, err := i.commands.GetByID(ctx, commandID)
	if errors.Is(err, repo.ErrNotFound) {
		// Сирота: команда не была зафиксирована (сбой между publish
		// и persist) либо SeqId чужой. Повтор не поможет.
		logger.Warn("result for unknown command, dropping",
			"status", msg.Status,
			"reason_code", msg.ReasonCode,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup command: %w", err)
	}

	// Журнал пишется до применения: даже отклонённый guard'ом
	// результат остаётся в истории как он пришёл.
	if err := i.appendHistory(ctx, cmd, &msg); err != nil {
		return err
	}

	status := outcomeStatus(&msg)
	guarded := !i.cfg.AllowOverwrite

	err = i.commands.UpdateResult(ctx, commandID, status, msg.ReasonCode, msg.Reason, guarded)
	switch {
	case errors.Is(err, repo.ErrInvalidState):
		// Команда уже в терминальном статусе — поздний дубликат.
		logger.Info("late result for settled command, dropping",
			"current_status", cmd.Status,
			"incoming_status", status,
		)
		return nil
	case errors.Is(err, repo.ErrNotFound):
		logger.Warn("command vanished during ingest, dropping")
		return nil
	case err != nil:
		return fmt.Errorf("apply result: %w", err)
	}

	cmd.ApplyResult(status, msg.ReasonCode, msg.Reason, time.Now().UTC())

	logger.Info("result applied",
		"light_id", cmd.LightID,
		"status", status,
		"reason_code", msg.ReasonCode,
	)

	if i.notifier != nil && shouldNotify(&msg) {
		if err := i.notifier.SendCommandError(ctx, cmd); err != nil {
			logger.Error("failed to send error notification", "error", err)
		}
	}

	if i.cfg.CallbackURL != "" {
		if err := i.forwardCallback(ctx, cmd); err != nil {
			logger.Error("failed to forward result callback", "error", err)
		}
	}
	return nil
}

// appendHistory пишет результат в журнал как он пришёл, без маппинга.
func (i *Ingestor) appendHistory(ctx context.Context, cmd *domain.Command, msg *mq.ResultMessage) error {
	h := &domain.CommandHistory{
		ID:         uuid.New(),
		CommandID:  cmd.ID,
		DagRunID:   cmd.DagRunID,
		LightID:    cmd.LightID,
		Status:     msg.Status,
		ReasonCode: msg.ReasonCode,
		Reason:     msg.Reason,
		Data:       msg.RawData(),
		ReceivedAt: time.Now().UTC(),
	}
	if err := i.history.Create(ctx, h); err != nil {
		return fmt.Errorf("append command history: %w", err)
	}
	return nil
}

// callbackBody — тело POST'а на CallbackURL.
type callbackBody struct {
	CommandID  string `json:"command_id"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// forwardCallback дублирует применённый результат HTTP-вызовом.
// Ошибка здесь не влияет на ack: состояние уже обновлено.
func (i *Ingestor) forwardCallback(ctx context.Context, cmd *domain.Command) error {
	body, err := json.Marshal(callbackBody{
		CommandID:  cmd.ID.String(),
		Status:     string(cmd.Status),
		ReasonCode: cmd.ReasonCode,
		Reason:     cmd.Reason,
	})
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.cfg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}
