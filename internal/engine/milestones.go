package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/stride/internal/expressions"
	"github.com/rendis/stride/pkg/schema"
)

// MilestoneEvaluator checks which milestones became achievable given the
// completed-phase history and marks them achieved exactly once.
type MilestoneEvaluator struct {
	expr   *expressions.ExprEngine
	logger *slog.Logger
}

// NewMilestoneEvaluator creates a MilestoneEvaluator.
func NewMilestoneEvaluator(logger *slog.Logger) *MilestoneEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &MilestoneEvaluator{expr: expressions.NewExprEngine(), logger: logger}
}

// Evaluate walks the plan's milestones and marks the ones whose phase
// dependencies are all completed and whose success metrics hold. A marked
// milestone is never re-evaluated: AchievedAt is written at most once and
// re-running the evaluator with no new phase completions is a no-op.
// Returns the names of milestones achieved during this pass.
func (m *MilestoneEvaluator) Evaluate(ctx context.Context, plan *schema.WorkflowPlan, ec *schema.ExecutionContext) []string {
	var achieved []string
	for i := range plan.Milestones {
		ms := &plan.Milestones[i]
		if ms.AchievedAt != nil {
			continue
		}
		if _, done := ec.MilestoneAchievements[ms.Name]; done {
			continue
		}

		if !phasesSatisfied(ms, ec) {
			continue
		}
		if !m.metricsHold(ctx, ms, plan, ec) {
			continue
		}

		now := time.Now().UTC()
		ms.AchievedAt = &now
		if ec.MilestoneAchievements == nil {
			ec.MilestoneAchievements = make(map[string]time.Time)
		}
		ec.MilestoneAchievements[ms.Name] = now
		ec.AppendLog(schema.LogEntry{
			Type:    schema.EventMilestoneAchieved,
			Message: ms.Name,
		})
		m.logger.InfoContext(ctx, "milestone achieved", slog.String("milestone", ms.Name))
		achieved = append(achieved, ms.Name)
	}
	return achieved
}

// CompletionRate returns achieved milestones over total, or 1 when the plan
// declares none.
func (m *MilestoneEvaluator) CompletionRate(plan *schema.WorkflowPlan) float64 {
	if len(plan.Milestones) == 0 {
		return 1
	}
	achieved := 0
	for i := range plan.Milestones {
		if plan.Milestones[i].AchievedAt != nil {
			achieved++
		}
	}
	return float64(achieved) / float64(len(plan.Milestones))
}

func phasesSatisfied(ms *schema.Milestone, ec *schema.ExecutionContext) bool {
	for _, id := range ms.PhaseDependencies {
		if !ec.PhaseCompleted(id) {
			return false
		}
	}
	return true
}

// metricsHold checks every success metric; unrecognized metric names
// default to true as an explicit extension point.
func (m *MilestoneEvaluator) metricsHold(ctx context.Context, ms *schema.Milestone, plan *schema.WorkflowPlan, ec *schema.ExecutionContext) bool {
	for _, metric := range ms.SuccessMetrics {
		switch normalized := strings.TrimSpace(metric); {
		case normalized == "all steps completed" || normalized == "all_steps_completed":
			if !lastQualifyingPhaseClean(ms, plan, ec) {
				return false
			}
		case normalized == "no_failed_phases":
			if len(ec.FailedPhases) > 0 {
				return false
			}
		case strings.HasPrefix(normalized, "expr:"):
			expression := strings.TrimSpace(strings.TrimPrefix(normalized, "expr:"))
			value, err := m.expr.Evaluate(ctx, expression, metricScope(ec))
			if err != nil || !expressions.Truthy(value) {
				return false
			}
		}
	}
	return true
}

// lastQualifyingPhaseClean checks the most recently completed phase among
// the milestone's dependencies had zero failed steps.
func lastQualifyingPhaseClean(ms *schema.Milestone, plan *schema.WorkflowPlan, ec *schema.ExecutionContext) bool {
	last := -1
	for _, id := range ec.CompletedPhases {
		for _, dep := range ms.PhaseDependencies {
			if id == dep {
				last = id
			}
		}
	}
	if last < 0 {
		return true
	}
	phase := plan.PhaseByID(last)
	if phase == nil {
		return true
	}
	for i := range phase.Steps {
		if ec.StepFailed(phase.Steps[i].ID) {
			return false
		}
	}
	return true
}

func metricScope(ec *schema.ExecutionContext) map[string]any {
	return map[string]any{
		"completed_steps":  intsOrEmpty(ec.CompletedSteps),
		"failed_steps":     intsOrEmpty(ec.FailedSteps),
		"skipped_steps":    intsOrEmpty(ec.SkippedSteps),
		"completed_phases": intsOrEmpty(ec.CompletedPhases),
		"failed_phases":    intsOrEmpty(ec.FailedPhases),
		"skipped_phases":   intsOrEmpty(ec.SkippedPhases),
	}
}

func intsOrEmpty(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
