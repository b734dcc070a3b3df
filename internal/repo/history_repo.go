package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Semaphore/internal/domain"
)

// CommandHistoryRepo — репозиторий журнала результатов.
// Таблица command_history append-only, индексирована по command_id.
type CommandHistoryRepo struct {
	pool *pgxpool.Pool
}

// NewCommandHistoryRepo создаёт новый CommandHistoryRepo.
func NewCommandHistoryRepo(pool *pgxpool.Pool) *CommandHistoryRepo {
	return &CommandHistoryRepo{pool: pool}
}

// Create добавляет запись журнала.
func (r *CommandHistoryRepo) Create(ctx context.Context, h *domain.CommandHistory) error {
	query := `
		INSERT INTO command_history
			(id, command_id, dag_run_id, light_id, status, reason_code, reason, data, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		h.ID,
		h.CommandID,
		h.DagRunID,
		h.LightID,
		h.Status,
		nullString(h.ReasonCode),
		nullString(h.Reason),
		h.Data,
		h.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert command history: %w", err)
	}
	return nil
}

// ListByCommand возвращает журнал одной команды, в порядке приёма.
func (r *CommandHistoryRepo) ListByCommand(ctx context.Context, commandID uuid.UUID) ([]domain.CommandHistory, error) {
	query := `
		SELECT id, command_id, dag_run_id, light_id, status, reason_code, reason, data, received_at
		FROM command_history
		WHERE command_id = $1
		ORDER BY received_at ASC
	`
	rows, err := r.pool.Query(ctx, query, commandID)
	if err != nil {
		return nil, fmt.Errorf("list command history: %w", err)
	}
	defer rows.Close()

	var items []domain.CommandHistory
	for rows.Next() {
		var h domain.CommandHistory
		var reasonCode, reason *string
		err := rows.Scan(
			&h.ID,
			&h.CommandID,
			&h.DagRunID,
			&h.LightID,
			&h.Status,
			&reasonCode,
			&reason,
			&h.Data,
			&h.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan command history: %w", err)
		}
		if reasonCode != nil {
			h.ReasonCode = *reasonCode
		}
		if reason != nil {
			h.Reason = *reason
		}
		items = append(items, h)
	}
	return items, rows.Err()
}
