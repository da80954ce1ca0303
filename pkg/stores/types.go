// Package stores persists run history: one row per reconciliation run,
// one row per applied resource, and an append-only event log. It backs
// the status command and post-hoc inspection of partial failures.
package stores

import (
	"context"
	"time"
)

// RunRecord is one reconciliation run.
type RunRecord struct {
	ID          string     `json:"id"`
	Outcome     string     `json:"outcome"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Applied     int        `json:"applied"`
	Created     int        `json:"created"`
	Skipped     int        `json:"skipped"`
	Failed      int        `json:"failed"`
}

// ChangeRecord is one per-resource apply result within a run.
type ChangeRecord struct {
	ID       int64     `json:"id"`
	RunID    string    `json:"run_id"`
	Kind     string    `json:"kind"`
	Resource string    `json:"resource"`
	Status   string    `json:"status"`
	Created  bool      `json:"created"`
	Message  string    `json:"message,omitempty"`
	AppliedAt time.Time `json:"applied_at"`
}

// EventRecord is one append-only log event.
type EventRecord struct {
	ID        int64     `json:"id"`
	RunID     *string   `json:"run_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the persistence contract for run history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *RunRecord) error
	FinishRun(ctx context.Context, id, outcome string, applied, created, skipped, failed int) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)

	// Change operations
	AppendChange(ctx context.Context, change *ChangeRecord) error
	ListChangesByRun(ctx context.Context, runID string) ([]*ChangeRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *EventRecord) error
	ListEvents(ctx context.Context, runID *string, limit, offset int) ([]*EventRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
