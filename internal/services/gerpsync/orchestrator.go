// Package gerpsync pulls Gerpgo resources page by page and lands them in
// local storage.
package gerpsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/datapilot-io/datapilot-ce/internal/gerpgo"
	"github.com/datapilot-io/datapilot-ce/internal/models"
)

// defaultLookback is the date window applied to date-filtered resources
// when the task params carry no explicit range.
const defaultLookback = 7 * 24 * time.Hour

// RecordSink persists a batch of normalized records idempotently.
type RecordSink interface {
	UpsertBatch(ctx context.Context, records []*models.SyncRecord) (int, error)
}

// Orchestrator runs one resource sync end to end: build the request from
// task params, walk the cursor, map each page, upsert. It holds no
// per-resource logic beyond the endpoint descriptor.
type Orchestrator struct {
	exec     gerpgo.Executor
	sink     RecordSink
	pageSize int
	logger   *log.Logger
	now      func() time.Time
}

// OrchestratorOption mutates orchestrator construction.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger injects a custom logger.
func WithOrchestratorLogger(l *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPageSize overrides the per-page record count.
func WithPageSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

func withNow(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires a sync orchestrator around an executor and a sink.
func NewOrchestrator(exec gerpgo.Executor, sink RecordSink, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		exec:     exec,
		sink:     sink,
		pageSize: 100,
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sync pulls every page of one resource and upserts the mapped records.
// On a mid-walk error the summary reports the pages already landed; rows
// upserted before the failure stay persisted.
func (o *Orchestrator) Sync(ctx context.Context, resource string, params map[string]any) (*models.SyncSummary, error) {
	endpoint, ok := gerpgo.Lookup(resource)
	if !ok {
		return nil, fmt.Errorf("unknown sync resource %q", resource)
	}

	request := o.buildRequest(endpoint, params)
	summary := &models.SyncSummary{Resource: resource}

	pages := gerpgo.FetchAll(o.exec, endpoint, request)
	for pages.Next(ctx) {
		page := pages.Page()
		records := o.mapPage(endpoint, page.Records)
		upserted, err := o.sink.UpsertBatch(ctx, records)
		if err != nil {
			summary.Pages, summary.Records = pages.Counts()
			return summary, fmt.Errorf("failed to store %s page %d: %w", resource, summary.Pages, err)
		}
		summary.Upserted += upserted
	}
	summary.Pages, summary.Records = pages.Counts()

	if err := pages.Err(); err != nil {
		return summary, fmt.Errorf("sync %s aborted after %d page(s): %w", resource, summary.Pages, err)
	}

	o.logger.Printf("gerpsync: %s done, %d page(s), %d record(s), %d upserted",
		resource, summary.Pages, summary.Records, summary.Upserted)
	return summary, nil
}

// buildRequest translates task params (snake_case, resource-agnostic) into
// the provider's request body, honoring the endpoint's market-filter
// spelling and defaulting the date window for report resources.
func (o *Orchestrator) buildRequest(endpoint gerpgo.Endpoint, params map[string]any) map[string]any {
	request := map[string]any{"count": o.pageSize}

	switch endpoint.MarketParam {
	case "marketIds":
		if v, ok := params["market_ids"]; ok {
			request["marketIds"] = v
		} else if v, ok := params["market_id"]; ok {
			request["marketIds"] = []any{v}
		}
	case "marketId":
		if v, ok := params["market_id"]; ok {
			request["marketId"] = v
		} else if list, ok := params["market_ids"].([]any); ok && len(list) > 0 {
			request["marketId"] = list[0]
		}
	}

	if endpoint.DateFiltered {
		start, startOK := params["start_date"]
		end, endOK := params["end_date"]
		if !startOK {
			start = o.now().Add(-defaultLookback).Format("2006-01-02")
		}
		if !endOK {
			end = o.now().Format("2006-01-02")
		}
		request["startDataDate"] = start
		request["endDataDate"] = end
	}

	return request
}

func (o *Orchestrator) mapPage(endpoint gerpgo.Endpoint, raw []json.RawMessage) []*models.SyncRecord {
	syncedAt := o.now().UTC()
	records := make([]*models.SyncRecord, 0, len(raw))
	for _, payload := range raw {
		records = append(records, &models.SyncRecord{
			Resource:   endpoint.Name,
			ExternalID: externalID(payload),
			MarketID:   stringField(payload, "marketId"),
			DataDate:   stringField(payload, "dataDate"),
			Payload:    payload,
			SyncedAt:   syncedAt,
		})
	}
	return records
}

// idFields are probed in order; provider records carry different id
// spellings per resource.
var idFields = []string{"id", "uuid", "sid", "asin", "keywordId", "campaignId", "marketplaceId"}

// externalID picks a stable identifier out of the payload. When no known
// id field is present it falls back to a content hash, which keeps the
// (resource, external_id) upsert key deterministic.
func externalID(payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil {
		for _, key := range idFields {
			if raw, ok := fields[key]; ok {
				var s string
				if err := json.Unmarshal(raw, &s); err == nil && s != "" {
					return s
				}
				var n json.Number
				if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
					return n.String()
				}
			}
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

func stringField(payload json.RawMessage, key string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
