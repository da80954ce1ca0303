package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openhearth/hearth/pkg/checkpoint"
	"github.com/openhearth/hearth/pkg/state"
	"github.com/openhearth/hearth/pkg/telemetry"
)

// RunState is the orchestrator's position in the apply lifecycle.
type RunState string

const (
	RunStateIdle              RunState = "idle"
	RunStateCheckpointCreated RunState = "checkpoint-created"
	RunStateApplying          RunState = "applying"
	RunStateCommitted         RunState = "committed"
	RunStateRollingBack       RunState = "rolling-back"
	RunStateRolledBack        RunState = "rolled-back"
	RunStateRollbackFailed    RunState = "rollback-failed"
)

// RunOutcome is the operator-facing result of a run. The failure shapes
// are distinct because the operator's next action differs for each.
type RunOutcome string

const (
	// OutcomeCommitted means every change applied (or there was nothing
	// to do); no further action required.
	OutcomeCommitted RunOutcome = "committed"

	// OutcomeRolledBack means the apply failed and the checkpoint was
	// restored cleanly; the system is back at its pre-run state.
	OutcomeRolledBack RunOutcome = "rolled-back"

	// OutcomeRollbackFailed means the apply failed and rollback itself
	// partially failed; manual correction is required for the resources
	// listed in the rollback report.
	OutcomeRollbackFailed RunOutcome = "rollback-failed"

	// OutcomeFailedNoCheckpoint means the apply failed and no checkpoint
	// was available to roll back to.
	OutcomeFailedNoCheckpoint RunOutcome = "failed-no-checkpoint"

	// OutcomeAborted means the run stopped before anything mutated, on a
	// diff failure or a safety rejection. The live systems are untouched.
	OutcomeAborted RunOutcome = "aborted"
)

// Checkpointer creates and restores pre-apply checkpoints.
type Checkpointer interface {
	Create(ctx context.Context, volumePaths []string) (*checkpoint.Checkpoint, error)
	Rollback(ctx context.Context, cp *checkpoint.Checkpoint, force bool) *checkpoint.RollbackReport
}

// SafetyGuard vets a computed diff before anything mutates. A returned
// error is a safety violation and is always fatal.
type SafetyGuard interface {
	CheckDiff(ctx context.Context, diff *DiffResult) error
}

// RunRecorder persists run history for later inspection. Recording
// failures are logged, never fatal.
type RunRecorder interface {
	BeginRun(ctx context.Context, runID string, startedAt time.Time) error
	RecordResult(ctx context.Context, runID string, result ApplyResult) error
	RecordEvent(ctx context.Context, runID, level, message string) error
	FinishRun(ctx context.Context, runID string, outcome string, summary ApplySummary) error
}

// RealityRecorder captures post-run observed state for audit.
type RealityRecorder interface {
	RecordReality(summary, path string) error
}

// RunReport is the full outcome of one reconciliation run.
type RunReport struct {
	// RunID identifies the run in logs and run history.
	RunID string `json:"run_id"`

	// State is the terminal lifecycle state.
	State RunState `json:"state"`

	// Outcome is the operator-facing result.
	Outcome RunOutcome `json:"outcome"`

	// Diff is the computed change list.
	Diff *DiffResult `json:"diff"`

	// Apply is the per-resource apply report, nil when nothing ran.
	Apply *ApplyReport `json:"apply,omitempty"`

	// Rollback is the rollback report when a rollback was attempted.
	Rollback *checkpoint.RollbackReport `json:"rollback,omitempty"`

	// CheckpointID is the checkpoint taken for this run, if any.
	CheckpointID string `json:"checkpoint_id,omitempty"`

	// Warnings are advisory messages gathered during the run.
	Warnings []string `json:"warnings,omitempty"`
}

// RunOptions controls a single run.
type RunOptions struct {
	// SkipCheckpoint suppresses the automatic pre-apply checkpoint.
	SkipCheckpoint bool

	// DryRun stops after diffing and safety checks.
	DryRun bool
}

// Runner owns the run lifecycle: diff, safety check, checkpoint, apply,
// and the automatic-rollback policy on failure. All dependencies are
// injected; one Runner per logical run context.
type Runner struct {
	differ       *Differ
	applicator   *Applicator
	checkpointer Checkpointer
	safety       SafetyGuard
	recorder     RunRecorder
	reality      RealityRecorder
	metrics      *telemetry.Metrics
	tracer       *telemetry.Tracer
	logger       zerolog.Logger
}

// NewRunner assembles a run orchestrator. checkpointer, safety,
// recorder, reality, metrics, and tracer may each be nil; the matching
// behavior is then skipped.
func NewRunner(
	differ *Differ,
	applicator *Applicator,
	checkpointer Checkpointer,
	safety SafetyGuard,
	recorder RunRecorder,
	reality RealityRecorder,
	metrics *telemetry.Metrics,
	tracer *telemetry.Tracer,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		differ:       differ,
		applicator:   applicator,
		checkpointer: checkpointer,
		safety:       safety,
		recorder:     recorder,
		reality:      reality,
		metrics:      metrics,
		tracer:       tracer,
		logger:       logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes one reconciliation run to completion.
func (r *Runner) Run(ctx context.Context, desired *state.DesiredState, current state.CurrentState, opts RunOptions) (*RunReport, error) {
	report := &RunReport{
		RunID: uuid.New().String(),
		State: RunStateIdle,
	}
	startedAt := time.Now()

	ctx, span := r.tracer.Start(ctx, "run.reconcile", attribute.String("run_id", report.RunID))
	defer span.End()

	r.metrics.RunStarted()
	r.recordBegin(ctx, report.RunID, startedAt)
	logger := r.logger.With().Str("run_id", report.RunID).Logger()

	diff, err := r.differ.Diff(ctx, desired, current)
	if err != nil {
		r.metrics.ErrorRecorded(string(ClassOf(err)))
		r.abortRun(ctx, report, startedAt, err)
		return nil, err
	}
	report.Diff = diff

	if r.safety != nil {
		if err := r.safety.CheckDiff(ctx, diff); err != nil {
			r.metrics.ErrorRecorded(string(ErrorClassSafety))
			logger.Error().Err(err).Msg("safety check rejected the change list")
			r.abortRun(ctx, report, startedAt, err)
			return nil, err
		}
	}

	if opts.DryRun {
		report.State = RunStateCommitted
		report.Outcome = OutcomeCommitted
		r.recordFinish(ctx, report, startedAt)
		return report, nil
	}

	var cp *checkpoint.Checkpoint
	if !opts.SkipCheckpoint && r.checkpointer != nil {
		cp, err = r.checkpointer.Create(ctx, desired.Paths())
		if err != nil {
			// Run on without a checkpoint rather than refusing to run;
			// the outcome reporting makes the difference visible.
			logger.Warn().Err(err).Msg("checkpoint creation failed, continuing without one")
			report.Warnings = append(report.Warnings, fmt.Sprintf("checkpoint creation failed: %v", err))
			r.recordEvent(ctx, report.RunID, "warn", fmt.Sprintf("checkpoint creation failed: %v", err))
		} else {
			report.State = RunStateCheckpointCreated
			report.CheckpointID = cp.ID
		}
	}

	report.State = RunStateApplying
	apply := r.applicator.Apply(ctx, desired, diff)
	report.Apply = apply
	for _, res := range apply.Results {
		r.metrics.ChangeApplied(string(res.Kind), string(res.Status))
		r.recordResult(ctx, report.RunID, res)
	}

	if !apply.Failed() {
		report.State = RunStateCommitted
		report.Outcome = OutcomeCommitted
		r.captureReality(desired, apply)
		r.recordFinish(ctx, report, startedAt)
		logger.Info().
			Int("applied", apply.Summary.Applied).
			Int("created", apply.Summary.Created).
			Msg("run committed")
		return report, nil
	}

	if cp == nil {
		report.Outcome = OutcomeFailedNoCheckpoint
		r.recordEvent(ctx, report.RunID, "error", "apply failed with no checkpoint to restore")
		r.recordFinish(ctx, report, startedAt)
		logger.Error().Msg("apply failed and no checkpoint is available")
		return report, nil
	}

	report.State = RunStateRollingBack
	logger.Warn().Str("checkpoint", cp.ID).Msg("apply failed, rolling back")
	rollback := r.checkpointer.Rollback(ctx, cp, false)
	report.Rollback = rollback

	if rollback.OK {
		report.State = RunStateRolledBack
		report.Outcome = OutcomeRolledBack
		r.metrics.RollbackAttempted("ok")
		r.recordEvent(ctx, report.RunID, "warn", "apply failed, checkpoint "+cp.ID+" restored")
	} else {
		report.State = RunStateRollbackFailed
		report.Outcome = OutcomeRollbackFailed
		r.metrics.RollbackAttempted("failed")
		r.metrics.ErrorRecorded(string(ErrorClassRollback))
		r.recordEvent(ctx, report.RunID, "error", "rollback of checkpoint "+cp.ID+" failed, manual intervention required")
	}
	r.recordFinish(ctx, report, startedAt)
	return report, nil
}

func (r *Runner) captureReality(desired *state.DesiredState, apply *ApplyReport) {
	if r.reality == nil {
		return
	}
	summary := fmt.Sprintf("%d volumes reconciled, %d resources applied, %d created",
		desired.Len(), apply.Summary.Applied, apply.Summary.Created)
	if err := r.reality.RecordReality(summary, ""); err != nil {
		r.logger.Warn().Err(err).Msg("reality snapshot failed")
	}
}

// abortRun closes the run record for a run that stopped before any
// mutation.
func (r *Runner) abortRun(ctx context.Context, report *RunReport, startedAt time.Time, err error) {
	report.Outcome = OutcomeAborted
	r.recordEvent(ctx, report.RunID, "error", err.Error())
	r.recordFinish(ctx, report, startedAt)
}

func (r *Runner) recordEvent(ctx context.Context, runID, level, message string) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordEvent(ctx, runID, level, message); err != nil {
		r.logger.Warn().Err(err).Msg("run history write failed")
	}
}

func (r *Runner) recordBegin(ctx context.Context, runID string, startedAt time.Time) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.BeginRun(ctx, runID, startedAt); err != nil {
		r.logger.Warn().Err(err).Msg("run history write failed")
	}
}

func (r *Runner) recordResult(ctx context.Context, runID string, res ApplyResult) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordResult(ctx, runID, res); err != nil {
		r.logger.Warn().Err(err).Msg("run history write failed")
	}
}

func (r *Runner) recordFinish(ctx context.Context, report *RunReport, startedAt time.Time) {
	duration := time.Since(startedAt)
	r.metrics.RunCompleted(string(report.Outcome), duration)
	if r.recorder == nil {
		return
	}
	var summary ApplySummary
	if report.Apply != nil {
		summary = report.Apply.Summary
	}
	if err := r.recorder.FinishRun(ctx, report.RunID, string(report.Outcome), summary); err != nil {
		r.logger.Warn().Err(err).Msg("run history write failed")
	}
}
