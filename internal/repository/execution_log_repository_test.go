package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot-io/datapilot-ce/internal/models"
)

func TestExecutionLogCreateAndFinish(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewExecutionLogRepository(db)

	started := time.Now().UTC()
	entry := &models.TaskExecutionLog{
		TaskID:    5,
		Status:    models.ExecutionStatusRunning,
		StartedAt: started,
	}

	mock.ExpectQuery(`INSERT INTO task_execution_logs`).
		WithArgs(5, models.ExecutionStatusRunning, "", started).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	id, err := repo.Create(context.Background(), entry)
	require.NoError(t, err)
	assert.Equal(t, 11, id)

	finished := started.Add(90 * time.Second)
	entry.Finalize(models.ExecutionStatusSuccess, "synced products: 3 pages, 250 records", finished)
	require.NotNil(t, entry.DurationSeconds)
	assert.InDelta(t, 90.0, *entry.DurationSeconds, 0.001)

	mock.ExpectExec(`UPDATE task_execution_logs`).
		WithArgs(models.ExecutionStatusSuccess, entry.Message, sqlmock.AnyArg(), sqlmock.AnyArg(), 11).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Finish(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionLogFinishRejectsUnfinalized(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewExecutionLogRepository(db)

	entry := &models.TaskExecutionLog{ID: 1, Status: models.ExecutionStatusRunning}
	assert.Error(t, repo.Finish(context.Background(), entry))
}

func TestSyncRecordUpsertBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSyncRecordRepository(db)

	records := []*models.SyncRecord{
		{Resource: "products", ExternalID: "A1", Payload: []byte(`{"asin":"A1"}`), SyncedAt: time.Now().UTC()},
		{Resource: "products", ExternalID: "A2", Payload: []byte(`{"asin":"A2"}`), SyncedAt: time.Now().UTC()},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO sync_records`)
	for _, record := range records {
		mock.ExpectExec(`INSERT INTO sync_records`).
			WithArgs(record.Resource, record.ExternalID, record.MarketID, record.DataDate, record.Payload, record.SyncedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	n, err := repo.UpsertBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncRecordUpsertBatchEmpty(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewSyncRecordRepository(db)

	n, err := repo.UpsertBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
