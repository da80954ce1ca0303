package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/openhearth/hearth/pkg/engine"
)

// Recorder adapts a Store to the engine's run recording contract.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder backed by the given store
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// BeginRun opens a run record; the outcome stays "running" until FinishRun
func (r *Recorder) BeginRun(ctx context.Context, runID string, startedAt time.Time) error {
	return r.store.CreateRun(ctx, &RunRecord{
		ID:        runID,
		Outcome:   "running",
		StartedAt: startedAt,
	})
}

// RecordResult appends one per-resource apply result to the run
func (r *Recorder) RecordResult(ctx context.Context, runID string, result engine.ApplyResult) error {
	return r.store.AppendChange(ctx, &ChangeRecord{
		RunID:     runID,
		Kind:      string(result.Kind),
		Resource:  result.Resource,
		Status:    string(result.Status),
		Created:   result.Created,
		Message:   result.Message,
		AppliedAt: time.Now(),
	})
}

// RecordEvent appends one log event to the run
func (r *Recorder) RecordEvent(ctx context.Context, runID, level, message string) error {
	return r.store.AppendEvent(ctx, &EventRecord{
		RunID:     &runID,
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// FinishRun closes the run record with its outcome and summary counters
func (r *Recorder) FinishRun(ctx context.Context, runID string, outcome string, summary engine.ApplySummary) error {
	if err := r.store.FinishRun(ctx, runID, outcome,
		summary.Applied, summary.Created, summary.Skipped, summary.Failed); err != nil {
		return fmt.Errorf("failed to record run outcome: %w", err)
	}
	return nil
}

var _ engine.RunRecorder = (*Recorder)(nil)
