package model

import "time"

// RunStatus is the state of a cursor's latest run.
type RunStatus string

const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped" // reported only; never stored on a cursor
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerOnDemand  Trigger = "on_demand"
)

// SyncCursor is the per-object-type watermark and run bookkeeping row.
type SyncCursor struct {
	ObjectType     ObjectType `gorm:"column:object_type;primaryKey;type:varchar(16)" json:"object_type"`
	LastSyncedAt   *time.Time `gorm:"column:last_synced_at;type:timestamp;comment:watermark, max CRM updatedAt applied" json:"last_synced_at"`
	LastRunStatus  RunStatus  `gorm:"column:last_run_status;type:varchar(16);not null;default:idle" json:"last_run_status"`
	LastRunAt      *time.Time `gorm:"column:last_run_at;type:timestamp" json:"last_run_at"`
	RunStartedAt   *time.Time `gorm:"column:run_started_at;type:timestamp" json:"run_started_at,omitempty"`
	LastRunID      string     `gorm:"column:last_run_id;type:varchar(64)" json:"last_run_id,omitempty"`
	LastError      string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	ObjectsSynced  int        `gorm:"column:objects_synced;default:0" json:"objects_synced"`
	RecordsSkipped int        `gorm:"column:records_skipped;default:0" json:"records_skipped"`
}

func (SyncCursor) TableName() string { return "sync_cursors" }

// SyncRun is one row of run history per object type per run.
type SyncRun struct {
	ID                   string     `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	ObjectType           ObjectType `gorm:"column:object_type;type:varchar(16);not null;index" json:"object_type"`
	Trigger              Trigger    `gorm:"column:trigger;type:varchar(16);not null" json:"trigger"`
	Status               RunStatus  `gorm:"column:status;type:varchar(16);not null" json:"status"`
	StartedAt            time.Time  `gorm:"column:started_at;type:timestamp;not null;index" json:"started_at"`
	FinishedAt           *time.Time `gorm:"column:finished_at;type:timestamp" json:"finished_at,omitempty"`
	ObjectsSynced        int        `gorm:"column:objects_synced;default:0" json:"objects_synced"`
	AssociationsResolved int        `gorm:"column:associations_resolved;default:0" json:"associations_resolved"`
	AttributionsComputed int        `gorm:"column:attributions_computed;default:0" json:"attributions_computed"`
	RecordsSkipped       int        `gorm:"column:records_skipped;default:0" json:"records_skipped"`
	ErrorMessage         string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	DurationMs           int64      `gorm:"column:duration_ms;default:0" json:"duration_ms"`
}

func (SyncRun) TableName() string { return "sync_runs" }
