package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/datapilot-io/datapilot-ce/internal/models"
)

// ExecutionLogRepository persists TaskExecutionLog rows. Rows are created
// once at job start and finalized exactly once at job end; the runtime
// never deletes them (retention is an external concern).
type ExecutionLogRepository struct {
	db *sqlx.DB
}

func NewExecutionLogRepository(db *sqlx.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: db}
}

func (r *ExecutionLogRepository) Create(ctx context.Context, entry *models.TaskExecutionLog) (int, error) {
	query := `
		INSERT INTO task_execution_logs (task_id, status, message, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int
	err := r.db.QueryRowContext(ctx, query, entry.TaskID, entry.Status, entry.Message, entry.StartedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create execution log: %w", err)
	}
	entry.ID = id
	return id, nil
}

// Finish writes the terminal state. The duration guard lives in the model
// (Finalize); here we only persist what it derived.
func (r *ExecutionLogRepository) Finish(ctx context.Context, entry *models.TaskExecutionLog) error {
	if entry.FinishedAt == nil || entry.DurationSeconds == nil {
		return errors.New("execution log is not finalized")
	}
	query := `
		UPDATE task_execution_logs
		SET status = $1, message = $2, finished_at = $3, duration_seconds = $4
		WHERE id = $5`

	result, err := r.db.ExecContext(ctx, query,
		entry.Status, entry.Message, entry.FinishedAt, entry.DurationSeconds, entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish execution log %d: %w", entry.ID, err)
	}
	return requireRow(result)
}

func (r *ExecutionLogRepository) ListByTask(ctx context.Context, taskID, limit int) ([]*models.TaskExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, task_id, status, message, started_at, finished_at, duration_seconds
		FROM task_execution_logs
		WHERE task_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var logs []*models.TaskExecutionLog
	if err := r.db.SelectContext(ctx, &logs, query, taskID, limit); err != nil {
		return nil, fmt.Errorf("failed to list execution logs for task %d: %w", taskID, err)
	}
	return logs, nil
}
