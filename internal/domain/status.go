package domain

import "fmt"

// DagRunStatus — статус выполнения dag run.
//
// Жизненный цикл:
//
//	Running → Success
//	        ↘ Failed
//	        ↘ Timeout  (через timeout sweep)
//	        ↘ Canceled (явный override)
//
// Из терминального статуса возврата в Running нет.
type DagRunStatus string

const (
	// DagRunStatusRunning — run создан, команды разосланы, ждём результаты.
	DagRunStatusRunning DagRunStatus = "Running"

	// DagRunStatusSuccess — ни одна команда не осталась в Pending/Running.
	// Отдельные команды могут быть Failed/Timeout — это не мешает Success.
	DagRunStatusSuccess DagRunStatus = "Success"

	// DagRunStatusFailed — run завершён с ошибкой (явный override).
	DagRunStatusFailed DagRunStatus = "Failed"

	// DagRunStatusTimeout — run остановлен timeout sweep'ом.
	DagRunStatusTimeout DagRunStatus = "Timeout"

	// DagRunStatusCanceled — run отменён внешним вызовом.
	DagRunStatusCanceled DagRunStatus = "Canceled"
)

// IsTerminal возвращает true, если статус финальный.
func (s DagRunStatus) IsTerminal() bool {
	switch s {
	case DagRunStatusSuccess, DagRunStatusFailed, DagRunStatusTimeout, DagRunStatusCanceled:
		return true
	default:
		return false
	}
}

// ParseDagRunStatus парсит строку в DagRunStatus.
// Возвращает ошибку для значений вне закрытого множества.
func ParseDagRunStatus(s string) (DagRunStatus, error) {
	switch DagRunStatus(s) {
	case DagRunStatusRunning, DagRunStatusSuccess, DagRunStatusFailed,
		DagRunStatusTimeout, DagRunStatusCanceled:
		return DagRunStatus(s), nil
	default:
		return "", fmt.Errorf("unknown dag run status %q", s)
	}
}

// CommandStatus — статус выполнения command.
//
// Жизненный цикл:
//
//	Pending → Running → Completed
//	                  ↘ Failed
//	                  ↘ Retry (pipeline повторит сам, retry_count++)
//	Pending/Running → Timeout (через timeout sweep)
type CommandStatus string

const (
	// CommandStatusPending — команда разослана, pipeline её ещё не взял.
	CommandStatusPending CommandStatus = "Pending"

	// CommandStatusRunning — pipeline обрабатывает команду.
	CommandStatusRunning CommandStatus = "Running"

	// CommandStatusCompleted — результат получен, обработка успешна.
	CommandStatusCompleted CommandStatus = "Completed"

	// CommandStatusFailed — результат получен с кодом ошибки.
	CommandStatusFailed CommandStatus = "Failed"

	// CommandStatusTimeout — команда не успела завершиться до дедлайна.
	CommandStatusTimeout CommandStatus = "Timeout"

	// CommandStatusRetry — pipeline сообщил о повторной попытке.
	CommandStatusRetry CommandStatus = "Retry"
)

// IsTerminal возвращает true, если статус финальный.
// Retry не терминальный: за ним придёт ещё один результат.
func (s CommandStatus) IsTerminal() bool {
	switch s {
	case CommandStatusCompleted, CommandStatusFailed, CommandStatusTimeout:
		return true
	default:
		return false
	}
}

// IsSettled возвращает true, если команда больше не ждёт результата.
// "Run завершён" значит "никто не в Pending/Running", а не "все успешны".
func (s CommandStatus) IsSettled() bool {
	return s != CommandStatusPending && s != CommandStatusRunning
}

// CanAccept проверяет, допускает ли текущий статус перезапись входящим
// результатом. Защита от поздних/дублированных сообщений: терминальную
// команду результат не откатывает.
func (s CommandStatus) CanAccept(next CommandStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next != ""
}

// ParseCommandStatus парсит строку в CommandStatus.
// Возвращает ошибку для значений вне закрытого множества.
func ParseCommandStatus(s string) (CommandStatus, error) {
	switch CommandStatus(s) {
	case CommandStatusPending, CommandStatusRunning, CommandStatusCompleted,
		CommandStatusFailed, CommandStatusTimeout, CommandStatusRetry:
		return CommandStatus(s), nil
	default:
		return "", fmt.Errorf("unknown command status %q", s)
	}
}
