// Package repository persists scheduler state and synced records.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/datapilot-io/datapilot-ce/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TaskRepository persists ScheduledTask rows.
type TaskRepository struct {
	db *sqlx.DB
}

func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *models.ScheduledTask) (int, error) {
	query := `
		INSERT INTO scheduled_tasks (name, job_name, cron_expression, params, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	now := time.Now().UTC()
	var id int
	err := r.db.QueryRowContext(ctx, query,
		task.Name, task.JobName, task.CronExpression, task.Params, task.Status, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create scheduled task: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now
	return id, nil
}

func (r *TaskRepository) Update(ctx context.Context, task *models.ScheduledTask) error {
	query := `
		UPDATE scheduled_tasks
		SET name = $1, job_name = $2, cron_expression = $3, params = $4, status = $5, updated_at = $6
		WHERE id = $7`

	result, err := r.db.ExecContext(ctx, query,
		task.Name, task.JobName, task.CronExpression, task.Params, task.Status, time.Now().UTC(), task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled task %d: %w", task.ID, err)
	}
	return requireRow(result)
}

func (r *TaskRepository) GetByID(ctx context.Context, id int) (*models.ScheduledTask, error) {
	query := `
		SELECT id, name, job_name, cron_expression, params, status, created_at, updated_at, last_executed_at
		FROM scheduled_tasks
		WHERE id = $1`

	task := &models.ScheduledTask{}
	err := r.db.GetContext(ctx, task, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled task %d: %w", id, err)
	}
	return task, nil
}

func (r *TaskRepository) List(ctx context.Context) ([]*models.ScheduledTask, error) {
	query := `
		SELECT id, name, job_name, cron_expression, params, status, created_at, updated_at, last_executed_at
		FROM scheduled_tasks
		ORDER BY created_at DESC`

	var tasks []*models.ScheduledTask
	if err := r.db.SelectContext(ctx, &tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListByStatus(ctx context.Context, status string) ([]*models.ScheduledTask, error) {
	query := `
		SELECT id, name, job_name, cron_expression, params, status, created_at, updated_at, last_executed_at
		FROM scheduled_tasks
		WHERE status = $1
		ORDER BY created_at DESC`

	var tasks []*models.ScheduledTask
	if err := r.db.SelectContext(ctx, &tasks, query, status); err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks by status %s: %w", status, err)
	}
	return tasks, nil
}

func (r *TaskRepository) UpdateStatus(ctx context.Context, id int, status string) error {
	query := `UPDATE scheduled_tasks SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update status of scheduled task %d: %w", id, err)
	}
	return requireRow(result)
}

// UpdateLastExecuted stamps the completion time. Written only when a run
// finishes, never when it starts: a log stuck in RUNNING without a
// matching stamp is the intended crashed-process signal.
func (r *TaskRepository) UpdateLastExecuted(ctx context.Context, id int, executedAt time.Time) error {
	query := `UPDATE scheduled_tasks SET last_executed_at = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, executedAt, id)
	if err != nil {
		return fmt.Errorf("failed to stamp scheduled task %d: %w", id, err)
	}
	return requireRow(result)
}

func (r *TaskRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled task %d: %w", id, err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
