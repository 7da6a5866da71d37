package models

import (
	"encoding/json"
	"time"
)

// Task statuses. A task with StatusActive has exactly one live cron handle;
// any other status has none.
const (
	TaskStatusActive   = "ACTIVE"
	TaskStatusInactive = "INACTIVE"
	TaskStatusPaused   = "PAUSED"
)

// Execution log statuses.
const (
	ExecutionStatusRunning = "RUNNING"
	ExecutionStatusSuccess = "SUCCESS"
	ExecutionStatusFailure = "FAILURE"
)

// ScheduledTask is a persisted cron-triggered job definition. JobName maps
// into the scheduler's job registry; Params is an opaque JSON object handed
// to the job body at execution time.
type ScheduledTask struct {
	ID             int        `db:"id" json:"id"`
	Name           string     `db:"name" json:"name"`
	JobName        string     `db:"job_name" json:"job_name"`
	CronExpression string     `db:"cron_expression" json:"cron_expression"`
	Params         string     `db:"params" json:"params"`
	Status         string     `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	LastExecutedAt *time.Time `db:"last_executed_at" json:"last_executed_at,omitempty"`
}

// ParamsMap decodes the stored params JSON. Malformed or empty params
// decode to an empty map rather than failing the run.
func (t *ScheduledTask) ParamsMap() map[string]any {
	out := make(map[string]any)
	if t.Params == "" {
		return out
	}
	if err := json.Unmarshal([]byte(t.Params), &out); err != nil {
		return make(map[string]any)
	}
	return out
}

// SetParamsMap encodes params into the stored JSON representation.
func (t *ScheduledTask) SetParamsMap(params map[string]any) error {
	if params == nil {
		t.Params = "{}"
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	t.Params = string(raw)
	return nil
}

// Clone returns a deep copy so scheduler mutations stay isolated from
// snapshots handed to callers.
func (t *ScheduledTask) Clone() *ScheduledTask {
	if t == nil {
		return nil
	}
	copy := *t
	if t.LastExecutedAt != nil {
		le := *t.LastExecutedAt
		copy.LastExecutedAt = &le
	}
	return &copy
}

// TaskExecutionLog records one job run. A row is created with
// ExecutionStatusRunning when the run starts and finalized exactly once;
// DurationSeconds is set only on terminal states.
type TaskExecutionLog struct {
	ID              int        `db:"id" json:"id"`
	TaskID          int        `db:"task_id" json:"task_id"`
	Status          string     `db:"status" json:"status"`
	Message         string     `db:"message" json:"message"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	FinishedAt      *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	DurationSeconds *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
}

// Finalize marks the log terminal and derives the duration from the two
// timestamps.
func (l *TaskExecutionLog) Finalize(status, message string, finishedAt time.Time) {
	l.Status = status
	l.Message = message
	l.FinishedAt = &finishedAt
	seconds := finishedAt.Sub(l.StartedAt).Seconds()
	l.DurationSeconds = &seconds
}
