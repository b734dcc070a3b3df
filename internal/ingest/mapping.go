package ingest

import (
	"github.com/shaiso/Semaphore/internal/domain"
	"github.com/shaiso/Semaphore/internal/mq"
)

// Коды ошибок анализа, которые шлёт pipeline. По ним уходит
// отдельное уведомление об ошибке.
const (
	ReasonTLNotActive = "ERR_TL_NOT_ACTIVE"
	ReasonTimestamp   = "ERR_TIMESTAMP"
	ReasonNoTL        = "ERR_NO_TL"
	ReasonOCR         = "ERR_OCR"
)

// knownErrorReasons — коды, о которых стоит уведомлять дежурных.
var knownErrorReasons = map[string]bool{
	ReasonTLNotActive: true,
	ReasonTimestamp:   true,
	ReasonNoTL:        true,
	ReasonOCR:         true,
}

// statusRetry — значение Status, которым pipeline сообщает о повторе.
const statusRetry = "Retry"

// outcomeStatus мапит результат pipeline в статус команды.
//
// Retry — явный сигнал повтора. Любой непустой ReasonCode — ошибка,
// включая коды, которых мы не знаем: неизвестный код не делает
// результат успешным. Всё остальное — успех.
func outcomeStatus(msg *mq.ResultMessage) domain.CommandStatus {
	if msg.Status == statusRetry {
		return domain.CommandStatusRetry
	}
	if msg.ReasonCode != "" {
		return domain.CommandStatusFailed
	}
	return domain.CommandStatusCompleted
}

// shouldNotify возвращает true для результатов, требующих уведомления.
func shouldNotify(msg *mq.ResultMessage) bool {
	return knownErrorReasons[msg.ReasonCode]
}
