package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/datapilot-io/datapilot-ce/internal/models"
)

// SyncRecordRepository is the idempotent sink for mapped upstream records.
// Upserts key on (resource, external_id) so at-least-once job execution
// converges instead of duplicating.
type SyncRecordRepository struct {
	db *sqlx.DB
}

func NewSyncRecordRepository(db *sqlx.DB) *SyncRecordRepository {
	return &SyncRecordRepository{db: db}
}

func (r *SyncRecordRepository) UpsertBatch(ctx context.Context, records []*models.SyncRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO sync_records (resource, external_id, market_id, data_date, payload, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resource, external_id)
		DO UPDATE SET market_id = EXCLUDED.market_id, data_date = EXCLUDED.data_date,
			payload = EXCLUDED.payload, synced_at = EXCLUDED.synced_at`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx,
			record.Resource, record.ExternalID, record.MarketID, record.DataDate, record.Payload, record.SyncedAt,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert %s/%s: %w", record.Resource, record.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert batch: %w", err)
	}
	return len(records), nil
}
