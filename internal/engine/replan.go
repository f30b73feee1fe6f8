package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/stride/internal/graph"
	"github.com/rendis/stride/pkg/schema"
)

// AdaptiveReplanner applies caller-supplied feedback to mutate a live plan
// between phases. Every mutation that touches a step list re-validates the
// affected phase's dependency graph before it is committed; a rejected
// adaptation leaves the plan untouched.
type AdaptiveReplanner struct {
	logger *slog.Logger
}

// NewAdaptiveReplanner creates an AdaptiveReplanner.
func NewAdaptiveReplanner(logger *slog.Logger) *AdaptiveReplanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptiveReplanner{logger: logger}
}

// Apply mutates the plan per the adaptation and appends an audit record to
// the execution context.
func (r *AdaptiveReplanner) Apply(ctx context.Context, plan *schema.WorkflowPlan, ec *schema.ExecutionContext, adaptation schema.Adaptation) error {
	phase := plan.PhaseByID(adaptation.PhaseID)
	if phase == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound,
			"phase %d not found in plan %s", adaptation.PhaseID, plan.ID)
	}

	var description string
	switch adaptation.Type {
	case schema.AdaptAddSteps:
		if err := r.addSteps(phase, adaptation.Steps); err != nil {
			return err
		}
		description = fmt.Sprintf("added %d step(s) to phase %q", len(adaptation.Steps), phase.Name)

	case schema.AdaptModifyApproach:
		if err := r.modifyApproach(phase, ec, adaptation); err != nil {
			return err
		}
		description = fmt.Sprintf("modified approach of phase %q", phase.Name)
		if adaptation.Description != "" {
			description += ": " + adaptation.Description
		}

	case schema.AdaptSkipPhase:
		if err := r.skipPhase(phase, ec, adaptation.Reason); err != nil {
			return err
		}
		description = fmt.Sprintf("skipped phase %q: %s", phase.Name, adaptation.Reason)

	default:
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unknown adaptation type %q", adaptation.Type)
	}

	ec.AppendChange(schema.AdaptiveChange{
		Type:        adaptation.Type,
		PhaseID:     phase.ID,
		PhaseName:   phase.Name,
		Description: description,
	})
	ec.AppendLog(schema.LogEntry{
		Type:    schema.EventPlanAdapted,
		PhaseID: phase.ID,
		Message: description,
	})
	r.logger.InfoContext(ctx, "plan adapted",
		slog.String("type", string(adaptation.Type)),
		slog.Int("phase_id", phase.ID))
	return nil
}

// addSteps appends new steps to the phase's step list. The combined graph
// is built and cycle-checked first; on rejection the phase keeps its
// current steps.
func (r *AdaptiveReplanner) addSteps(phase *schema.Phase, steps []schema.Step) error {
	if len(steps) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "add_steps carries no steps")
	}
	for i := range steps {
		steps[i].Status = schema.StepStatusPending
	}

	candidate := make([]schema.Step, 0, len(phase.Steps)+len(steps))
	candidate = append(candidate, phase.Steps...)
	candidate = append(candidate, steps...)

	if err := validateSteps(candidate); err != nil {
		return err
	}
	phase.Steps = candidate
	return nil
}

// modifyApproach replaces the phase description and, optionally, its entire
// step list. Replacing the steps of a skipped phase puts it back to pending.
func (r *AdaptiveReplanner) modifyApproach(phase *schema.Phase, ec *schema.ExecutionContext, adaptation schema.Adaptation) error {
	if len(adaptation.Steps) > 0 {
		replacement := make([]schema.Step, len(adaptation.Steps))
		copy(replacement, adaptation.Steps)
		for i := range replacement {
			replacement[i].Status = schema.StepStatusPending
		}
		if err := validateSteps(replacement); err != nil {
			return err
		}
		phase.Steps = replacement

		if phase.Status == schema.PhaseStatusSkipped {
			if err := transitionPhase(ec, phase, schema.PhaseStatusPending); err != nil {
				return err
			}
			phase.SkipReason = ""
			ec.SkippedPhases = removeInt(ec.SkippedPhases, phase.ID)
		}
	}
	if adaptation.Description != "" {
		phase.Description = adaptation.Description
	}
	return nil
}

// skipPhase marks a pending phase skipped. A skipped phase never enters the
// completed set, so milestones depending on it stay unachievable until a
// later adaptation un-skips or substitutes it.
func (r *AdaptiveReplanner) skipPhase(phase *schema.Phase, ec *schema.ExecutionContext, reason string) error {
	if phase.Status != schema.PhaseStatusPending {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"cannot skip phase %d in status %s", phase.ID, phase.Status)
	}
	if err := transitionPhase(ec, phase, schema.PhaseStatusSkipped); err != nil {
		return err
	}
	phase.SkipReason = reason
	ec.MarkPhase(phase.ID, schema.PhaseStatusSkipped)
	return nil
}

// validateSteps runs the pre-execution graph checks over a candidate step
// list: build (dangling references, duplicates) then cycle detection.
func validateSteps(steps []schema.Step) error {
	g, err := graph.Build(steps)
	if err != nil {
		return err
	}
	return graph.Validate(g)
}

func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
