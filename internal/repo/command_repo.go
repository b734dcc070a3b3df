package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Semaphore/internal/domain"
)

// CommandRepo — репозиторий для работы с commands.
//
// Таблица commands индексирована по dag_run_id и по status:
// sweep и проверка завершённости выбирают по предикату
// status IN ('Pending', 'Running').
type CommandRepo struct {
	pool *pgxpool.Pool
}

// NewCommandRepo создаёт новый CommandRepo.
func NewCommandRepo(pool *pgxpool.Pool) *CommandRepo {
	return &CommandRepo{pool: pool}
}

const commandColumns = `
	id, dag_run_id, task_type, status, reason_code, reason,
	light_id, camera_id, payload, retry_count, last_retry_at,
	created_at, updated_at
`

// CreateBatch вставляет пачку команд одним batch-запросом.
// Батч не атомарен: частичная вставка допустима, повтор безопасен
// (конфликт по id просто завершает повтор ErrAlreadyExists).
func (r *CommandRepo) CreateBatch(ctx context.Context, commands []*domain.Command) error {
	if len(commands) == 0 {
		return nil
	}

	query := `
		INSERT INTO commands (` + commandColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	batch := &pgx.Batch{}
	for _, cmd := range commands {
		payloadJSON, err := json.Marshal(cmd.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		batch.Queue(query,
			cmd.ID,
			cmd.DagRunID,
			cmd.TaskType,
			cmd.Status,
			nullString(cmd.ReasonCode),
			nullString(cmd.Reason),
			cmd.LightID,
			cmd.CameraID,
			payloadJSON,
			cmd.RetryCount,
			cmd.LastRetryAt,
			cmd.CreatedAt,
			cmd.UpdatedAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range commands {
		if _, err := results.Exec(); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert command: %w", err)
		}
	}
	return nil
}

// GetByID возвращает команду по correlation id.
func (r *CommandRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE id = $1
	`
	return scanCommand(r.pool.QueryRow(ctx, query, id))
}

// ListByDagRun возвращает все команды run'а.
func (r *CommandRepo) ListByDagRun(ctx context.Context, dagRunID uuid.UUID) ([]domain.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE dag_run_id = $1
		ORDER BY created_at ASC
	`
	return r.listCommands(ctx, query, dagRunID)
}

// ListPendingOrRunning возвращает незавершённые команды run'а.
func (r *CommandRepo) ListPendingOrRunning(ctx context.Context, dagRunID uuid.UUID) ([]domain.Command, error) {
	query := `
		SELECT ` + commandColumns + `
		FROM commands
		WHERE dag_run_id = $1 AND status IN ('Pending', 'Running')
		ORDER BY created_at ASC
	`
	return r.listCommands(ctx, query, dagRunID)
}

// CountPendingOrRunning возвращает количество незавершённых команд.
// Run считается завершённым, когда здесь ноль.
func (r *CommandRepo) CountPendingOrRunning(ctx context.Context, dagRunID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM commands
		WHERE dag_run_id = $1 AND status IN ('Pending', 'Running')
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, dagRunID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending commands: %w", err)
	}
	return count, nil
}

// CountByStatus возвращает количество команд run'а в заданном статусе.
func (r *CommandRepo) CountByStatus(ctx context.Context, dagRunID uuid.UUID, status domain.CommandStatus) (int, error) {
	query := `
		SELECT count(*)
		FROM commands
		WHERE dag_run_id = $1 AND status = $2
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, dagRunID, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("count commands by status: %w", err)
	}
	return count, nil
}

// UpdateResult перезаписывает состояние команды результатом.
//
// При guarded=true обновляются только команды вне терминальных статусов —
// поздний или дублированный результат не откатит Completed/Failed/Timeout.
// При guarded=false воспроизводится last-writer-wins исходной системы.
// Retry инкрементирует retry_count и ставит last_retry_at.
func (r *CommandRepo) UpdateResult(ctx context.Context, id uuid.UUID, status domain.CommandStatus, reasonCode, reason string, guarded bool) error {
	query := `
		UPDATE commands
		SET status = $2, reason_code = $3, reason = $4, updated_at = now(),
		    retry_count = retry_count + CASE WHEN $5 THEN 1 ELSE 0 END,
		    last_retry_at = CASE WHEN $5 THEN now() ELSE last_retry_at END
		WHERE id = $1
	`
	if guarded {
		query += ` AND status NOT IN ('Completed', 'Failed', 'Timeout')`
	}

	result, err := r.pool.Exec(ctx, query,
		id,
		status,
		nullString(reasonCode),
		nullString(reason),
		status == domain.CommandStatusRetry,
	)
	if err != nil {
		return fmt.Errorf("update command result: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Либо команды нет, либо guard не пустил. Различаем.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInvalidState
	}
	return nil
}

// TimeoutMany переводит перечисленные команды в Timeout одним bulk-запросом.
// Предикат по статусу повторён в WHERE: повторный sweep после частичного
// сбоя сходится к тому же состоянию и не трогает уже решённые команды.
// Возвращает число реально изменённых строк.
func (r *CommandRepo) TimeoutMany(ctx context.Context, ids []uuid.UUID, reasonCode, reason string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE commands
		SET status = 'Timeout', reason_code = $2, reason = $3, updated_at = now()
		WHERE id = ANY($1) AND status IN ('Pending', 'Running')
	`
	result, err := r.pool.Exec(ctx, query, ids, reasonCode, reason)
	if err != nil {
		return 0, fmt.Errorf("timeout commands: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// --- Helpers ---

func (r *CommandRepo) listCommands(ctx context.Context, query string, args ...any) ([]domain.Command, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var commands []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, *cmd)
	}
	return commands, rows.Err()
}

// scanCommand сканирует строку в Command.
func scanCommand(row pgx.Row) (*domain.Command, error) {
	var cmd domain.Command
	var reasonCode, reason *string
	var payloadJSON []byte

	err := row.Scan(
		&cmd.ID,
		&cmd.DagRunID,
		&cmd.TaskType,
		&cmd.Status,
		&reasonCode,
		&reason,
		&cmd.LightID,
		&cmd.CameraID,
		&payloadJSON,
		&cmd.RetryCount,
		&cmd.LastRetryAt,
		&cmd.CreatedAt,
		&cmd.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan command: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &cmd.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if reasonCode != nil {
		cmd.ReasonCode = *reasonCode
	}
	if reason != nil {
		cmd.Reason = *reason
	}
	return &cmd, nil
}
