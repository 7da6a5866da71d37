package models

import "time"

// SyncRecord is one normalized upstream record ready for the repository
// sink. Resource names the logical data set (e.g. "products",
// "sp_keywords"); Payload carries the provider JSON verbatim so upserts
// stay idempotent on (resource, external_id).
type SyncRecord struct {
	Resource   string    `db:"resource" json:"resource"`
	ExternalID string    `db:"external_id" json:"external_id"`
	MarketID   string    `db:"market_id" json:"market_id"`
	DataDate   string    `db:"data_date" json:"data_date"`
	Payload    []byte    `db:"payload" json:"payload"`
	SyncedAt   time.Time `db:"synced_at" json:"synced_at"`
}

// SyncSummary is the human-readable result of one orchestrator run and
// feeds the execution log's success message.
type SyncSummary struct {
	Resource string
	Pages    int
	Records  int
	Upserted int
}
