package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot-io/datapilot-ce/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestTaskRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectQuery(`INSERT INTO scheduled_tasks`).
		WithArgs("inventory sync", "sync.fba_inventory", "0 * * * *", "{}", models.TaskStatusActive,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	task := &models.ScheduledTask{
		Name:           "inventory sync",
		JobName:        "sync.fba_inventory",
		CronExpression: "0 * * * *",
		Params:         "{}",
		Status:         models.TaskStatusActive,
	}
	id, err := repo.Create(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.Equal(t, 7, task.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_tasks`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRepositoryListByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "job_name", "cron_expression", "params", "status", "created_at", "updated_at", "last_executed_at"}).
		AddRow(1, "products", "sync.products", "*/30 * * * *", "{}", models.TaskStatusActive, now, now, nil).
		AddRow(2, "keywords", "sync.sp_keywords", "15 2 * * *", `{"market_ids":[3]}`, models.TaskStatusActive, now, now, now)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_tasks\s+WHERE status`).
		WithArgs(models.TaskStatusActive).
		WillReturnRows(rows)

	tasks, err := repo.ListByStatus(context.Background(), models.TaskStatusActive)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "sync.products", tasks[0].JobName)
	assert.NotNil(t, tasks[1].LastExecutedAt)
}

func TestTaskRepositoryUpdateLastExecutedMissingRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectExec(`UPDATE scheduled_tasks SET last_executed_at`).
		WithArgs(sqlmock.AnyArg(), 99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateLastExecuted(context.Background(), 99, time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRepositoryDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTaskRepository(db)

	mock.ExpectExec(`DELETE FROM scheduled_tasks`).
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Delete(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}
