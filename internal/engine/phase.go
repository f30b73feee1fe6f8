package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/stride/internal/graph"
	"github.com/rendis/stride/internal/logging"
	"github.com/rendis/stride/pkg/schema"
)

// PhaseOutcome summarizes one phase orchestration pass.
type PhaseOutcome struct {
	PhaseID       int                  `json:"phase_id"`
	Status        schema.PhaseStatus   `json:"status"`
	Completed     []int                `json:"completed,omitempty"`
	Failed        []int                `json:"failed,omitempty"`
	Skipped       []int                `json:"skipped,omitempty"`
	Suspended     *schema.InputRequest `json:"suspended,omitempty"`
	Halted        bool                 `json:"halted,omitempty"`
	ExecutionTime time.Duration        `json:"execution_time"`
}

// PhaseOrchestrator runs all steps of one phase in computed topological
// order, strictly sequentially, applying skip and critical-halt rules.
type PhaseOrchestrator struct {
	exec   *StepExecutor
	logger *slog.Logger
}

// NewPhaseOrchestrator creates a PhaseOrchestrator over the given executor.
func NewPhaseOrchestrator(exec *StepExecutor, logger *slog.Logger) *PhaseOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PhaseOrchestrator{exec: exec, logger: logger}
}

// RunPhase builds and validates the phase's dependency graph, computes the
// execution order and drives the executor step by step. Graph errors are
// fatal and pre-execution: nothing is marked in progress. A step whose
// dependencies did not all complete is skipped, not failed. A critical
// failure halts the phase; the remaining steps are recorded skipped.
// Reaching a user_input or decision_point step suspends the phase: the
// outcome carries the pending request and the phase stays in_progress.
func (o *PhaseOrchestrator) RunPhase(ctx context.Context, phase *schema.Phase, ec *schema.ExecutionContext) (*PhaseOutcome, error) {
	ctx = logging.WithPhaseID(ctx, phase.ID)

	g, err := graph.Build(phase.Steps)
	if err != nil {
		return nil, err
	}
	if err := graph.Validate(g); err != nil {
		return nil, err
	}
	order := graph.Order(g)

	outcome := &PhaseOutcome{PhaseID: phase.ID, Status: phase.Status}

	if phase.Status == schema.PhaseStatusPending {
		if err := transitionPhase(ec, phase, schema.PhaseStatusInProgress); err != nil {
			return nil, err
		}
		outcome.Status = phase.Status
	}

	halted := false
	for pos, id := range order {
		step := phase.StepByID(id)

		// Already terminal (resume path or prior pass).
		if isTerminalStep(step.Status) {
			o.collect(outcome, step)
			continue
		}

		if halted {
			o.skipStep(ec, phase, step, outcome, "phase halted by critical failure")
			continue
		}

		if missing, ok := unmetDependency(step, ec); !ok {
			o.skipStep(ec, phase, step, outcome,
				fmt.Sprintf("dependency %d not completed", missing))
			continue
		}

		if step.Status == schema.StepStatusPending {
			if err := transitionStep(ec, phase.ID, step, schema.StepStatusReady); err != nil {
				return nil, err
			}
		}
		if step.Status == schema.StepStatusReady {
			if err := transitionStep(ec, phase.ID, step, schema.StepStatusInProgress); err != nil {
				return nil, err
			}
		}

		result := o.exec.Execute(ctx, phase, step, ec)
		ec.ExecutionTime += result.ExecutionTime
		outcome.ExecutionTime += result.ExecutionTime

		if result.RequiresFollowUp {
			// Suspension point: the step stays in_progress and the caller
			// must persist the context before returning control.
			req := &schema.InputRequest{
				PhaseID:     phase.ID,
				StepID:      step.ID,
				ActionKind:  step.ActionKind,
				Prompt:      step.Description,
				RequestedAt: time.Now().UTC(),
			}
			ec.AwaitingInput = req
			ec.AppendLog(schema.LogEntry{
				Type:    schema.EventInputRequested,
				PhaseID: phase.ID,
				StepID:  step.ID,
				Message: step.Title,
			})
			outcome.Suspended = req
			o.logger.InfoContext(ctx, "phase suspended awaiting input",
				slog.Int("step_id", step.ID),
				slog.String("action_kind", string(step.ActionKind)))
			return outcome, nil
		}

		if result.Success {
			if err := transitionStep(ec, phase.ID, step, schema.StepStatusCompleted); err != nil {
				return nil, err
			}
			ec.MarkStepCompleted(&schema.StepRecord{
				StepID:     step.ID,
				PhaseID:    phase.ID,
				Output:     result.Output,
				DurationMs: result.ExecutionTime.Milliseconds(),
			})
			outcome.Completed = append(outcome.Completed, step.ID)
			continue
		}

		// Failure path.
		if err := transitionStep(ec, phase.ID, step, schema.StepStatusFailed); err != nil {
			return nil, err
		}
		rec := &schema.StepRecord{
			StepID:     step.ID,
			PhaseID:    phase.ID,
			DurationMs: result.ExecutionTime.Milliseconds(),
		}
		if result.Err != nil {
			rec.Error = result.Err.Error()
		}
		ec.MarkStepFailed(rec)
		outcome.Failed = append(outcome.Failed, step.ID)

		if result.CriticalFailure {
			halted = true
			outcome.Halted = true
			o.logger.WarnContext(ctx, "critical failure, halting phase",
				slog.Int("step_id", step.ID),
				slog.Int("remaining", len(order)-pos-1))
		}
	}

	// Phase outcome: success iff no step failed. Skips alone do not fail
	// a phase.
	final := schema.PhaseStatusCompleted
	if len(outcome.Failed) > 0 {
		final = schema.PhaseStatusFailed
	}
	if err := transitionPhase(ec, phase, final); err != nil {
		return nil, err
	}
	ec.MarkPhase(phase.ID, final)
	outcome.Status = final
	return outcome, nil
}

func (o *PhaseOrchestrator) skipStep(ec *schema.ExecutionContext, phase *schema.Phase, step *schema.Step, outcome *PhaseOutcome, reason string) {
	if err := transitionStep(ec, phase.ID, step, schema.StepStatusSkipped); err != nil {
		return
	}
	ec.MarkStepSkipped(&schema.StepRecord{
		StepID:  step.ID,
		PhaseID: phase.ID,
		Error:   reason,
	})
	outcome.Skipped = append(outcome.Skipped, step.ID)
}

func (o *PhaseOrchestrator) collect(outcome *PhaseOutcome, step *schema.Step) {
	switch step.Status {
	case schema.StepStatusCompleted:
		outcome.Completed = append(outcome.Completed, step.ID)
	case schema.StepStatusFailed:
		outcome.Failed = append(outcome.Failed, step.ID)
	case schema.StepStatusSkipped:
		outcome.Skipped = append(outcome.Skipped, step.ID)
	}
}

// unmetDependency reports the first dependency without a completed outcome.
func unmetDependency(step *schema.Step, ec *schema.ExecutionContext) (int, bool) {
	for _, dep := range step.Dependencies {
		if !ec.StepCompleted(dep) {
			return dep, false
		}
	}
	return 0, true
}

func isTerminalStep(s schema.StepStatus) bool {
	return s == schema.StepStatusCompleted || s == schema.StepStatusFailed || s == schema.StepStatusSkipped
}
