package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/stride/internal/graph"
	"github.com/rendis/stride/pkg/schema"
)

// knownMetrics are the milestone success-metric names with built-in
// semantics. Expression metrics use the "expr:" prefix; anything else
// evaluates as trivially satisfied.
var knownMetrics = map[string]bool{
	"all steps completed": true,
	"all_steps_completed": true,
	"no_failed_phases":    true,
}

// Validate runs all pre-execution checks on a plan and fails with the first
// error: structural emptiness, id uniqueness, every phase's dependency graph
// and milestone phase references. Nothing reaches in_progress past a failure.
func Validate(p *schema.WorkflowPlan) error {
	return Inspect(p).ToError()
}

// Inspect runs the full validation pipeline and reports every issue it
// finds, errors and warnings both, so a caller can surface all problems
// with a document in one pass.
func Inspect(p *schema.WorkflowPlan) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if len(p.Phases) == 0 {
		result.AddError("/phases", schema.ErrCodeDecomposition, "plan has no phases")
		return result
	}

	seen := make(map[int]bool, len(p.Phases))
	seenSteps := make(map[int]int) // step id -> owning phase id
	for i := range p.Phases {
		phase := &p.Phases[i]
		path := fmt.Sprintf("/phases/%d", i)

		if seen[phase.ID] {
			result.AddError(path, schema.ErrCodeDecomposition,
				fmt.Sprintf("duplicate phase id: %d", phase.ID))
			continue
		}
		seen[phase.ID] = true

		if len(phase.Steps) == 0 {
			result.AddError(path, schema.ErrCodeDecomposition,
				fmt.Sprintf("phase %d (%s) has no steps", phase.ID, phase.Name))
			continue
		}

		// Step ids must be plan-wide unique: the execution context tracks
		// step outcomes in flat id sets.
		for j := range phase.Steps {
			step := &phase.Steps[j]
			if owner, dup := seenSteps[step.ID]; dup {
				result.AddError(fmt.Sprintf("%s/steps/%d", path, j), schema.ErrCodeDecomposition,
					fmt.Sprintf("step id %d appears in phases %d and %d", step.ID, owner, phase.ID))
			}
			seenSteps[step.ID] = phase.ID

			if step.ActionKind == schema.ActionToolCall && step.ToolName == "" {
				result.AddWarning(fmt.Sprintf("%s/steps/%d", path, j), schema.ErrCodeToolUnavailable,
					fmt.Sprintf("step %d is a tool_call with no tool name and will fail at execution", step.ID))
			}
		}

		if err := validateGraph(phase.Steps); err != nil {
			addStrideError(result, path, err)
		}
	}

	for i := range p.Milestones {
		ms := &p.Milestones[i]
		path := fmt.Sprintf("/milestones/%d", i)
		for _, dep := range ms.PhaseDependencies {
			if !seen[dep] {
				result.AddError(path, schema.ErrCodeDependency,
					fmt.Sprintf("milestone %q depends on non-existent phase %d", ms.Name, dep))
			}
		}
		for _, metric := range ms.SuccessMetrics {
			name := strings.ToLower(strings.TrimSpace(metric))
			if knownMetrics[name] || strings.HasPrefix(name, "expr:") {
				continue
			}
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("milestone %q metric %q has no built-in semantics and evaluates as satisfied", ms.Name, metric))
		}
	}

	return result
}

func validateGraph(steps []schema.Step) error {
	g, err := graph.Build(steps)
	if err != nil {
		return err
	}
	return graph.Validate(g)
}

func addStrideError(result *schema.ValidationResult, path string, err error) {
	var se *schema.StrideError
	if errors.As(err, &se) {
		result.AddError(path, se.Code, se.Message)
		return
	}
	result.AddError(path, schema.ErrCodeValidation, err.Error())
}
