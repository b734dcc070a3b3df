package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Semaphore/internal/domain"
)

// DagRunRepo — репозиторий для работы с dag runs.
//
// Таблица dag_runs имеет уникальный индекс по
// (airflow_dag_id, airflow_dag_run_id) — это единственная защита
// Trigger'а от конкурирующих дубликатов.
type DagRunRepo struct {
	pool *pgxpool.Pool
}

// NewDagRunRepo создаёт новый DagRunRepo.
func NewDagRunRepo(pool *pgxpool.Pool) *DagRunRepo {
	return &DagRunRepo{pool: pool}
}

const dagRunColumns = `
	id, airflow_dag_id, airflow_dag_run_id, airflow_task_id, status,
	execution_date, start_time, end_time, timeout_at,
	total_commands, completed_commands, total_lights, processed_lights,
	last_reason, last_reason_at
`

// Create создаёт новый dag run.
// Конфликт уникальности по airflow-идентификаторам → ErrAlreadyExists.
func (r *DagRunRepo) Create(ctx context.Context, run *domain.DagRun) error {
	query := `
		INSERT INTO dag_runs (` + dagRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.AirflowDagID,
		run.AirflowDagRunID,
		run.AirflowTaskID,
		run.Status,
		run.ExecutionDate,
		run.StartTime,
		run.EndTime,
		run.TimeoutAt,
		run.TotalCommands,
		run.CompletedCommands,
		run.TotalLights,
		run.ProcessedLights,
		nullString(run.LastReason),
		run.LastReasonAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert dag run: %w", err)
	}
	return nil
}

// GetByAirflowIDs возвращает dag run по паре внешних идентификаторов.
func (r *DagRunRepo) GetByAirflowIDs(ctx context.Context, dagID, dagRunID string) (*domain.DagRun, error) {
	query := `
		SELECT ` + dagRunColumns + `
		FROM dag_runs
		WHERE airflow_dag_id = $1 AND airflow_dag_run_id = $2
	`
	return scanDagRun(r.pool.QueryRow(ctx, query, dagID, dagRunID))
}

// GetByID возвращает dag run по внутреннему id.
func (r *DagRunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DagRun, error) {
	query := `
		SELECT ` + dagRunColumns + `
		FROM dag_runs
		WHERE id = $1
	`
	return scanDagRun(r.pool.QueryRow(ctx, query, id))
}

// Update сохраняет изменяемые поля dag run.
func (r *DagRunRepo) Update(ctx context.Context, run *domain.DagRun) error {
	query := `
		UPDATE dag_runs
		SET status = $2, end_time = $3,
		    total_commands = $4, completed_commands = $5,
		    total_lights = $6, processed_lights = $7,
		    last_reason = $8, last_reason_at = $9
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Status,
		run.EndTime,
		run.TotalCommands,
		run.CompletedCommands,
		run.TotalLights,
		run.ProcessedLights,
		nullString(run.LastReason),
		run.LastReasonAt,
	)
	if err != nil {
		return fmt.Errorf("update dag run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueForTimeout возвращает Running runs, у которых timeout_at уже
// в прошлом. Используется автономным sweeper'ом.
func (r *DagRunRepo) ListDueForTimeout(ctx context.Context, now time.Time, limit int) ([]domain.DagRun, error) {
	query := `
		SELECT ` + dagRunColumns + `
		FROM dag_runs
		WHERE status = 'Running' AND timeout_at <= $1
		ORDER BY timeout_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due dag runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.DagRun
	for rows.Next() {
		run, err := scanDagRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// scanDagRun сканирует строку в DagRun.
func scanDagRun(row pgx.Row) (*domain.DagRun, error) {
	var run domain.DagRun
	var lastReason *string

	err := row.Scan(
		&run.ID,
		&run.AirflowDagID,
		&run.AirflowDagRunID,
		&run.AirflowTaskID,
		&run.Status,
		&run.ExecutionDate,
		&run.StartTime,
		&run.EndTime,
		&run.TimeoutAt,
		&run.TotalCommands,
		&run.CompletedCommands,
		&run.TotalLights,
		&run.ProcessedLights,
		&lastReason,
		&run.LastReasonAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dag run: %w", err)
	}

	if lastReason != nil {
		run.LastReason = *lastReason
	}
	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
