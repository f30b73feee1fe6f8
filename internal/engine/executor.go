package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/stride/internal/expressions"
	"github.com/rendis/stride/internal/logging"
	"github.com/rendis/stride/internal/tools"
	"github.com/rendis/stride/pkg/schema"
)

// StepResult is the uniform outcome of one step dispatch, regardless of
// action kind.
type StepResult struct {
	StepID           int                 `json:"step_id"`
	Success          bool                `json:"success"`
	RequiresFollowUp bool                `json:"requires_follow_up"`
	CriticalFailure  bool                `json:"critical_failure"`
	Err              *schema.StrideError `json:"error,omitempty"`
	Output           map[string]any      `json:"output,omitempty"`
	ExecutionTime    time.Duration       `json:"execution_time"`
}

// StepExecutor dispatches a single step to the handler for its action kind
// and normalizes the result. Tool implementations live behind the registry.
type StepExecutor struct {
	registry tools.Registry
	cel      *expressions.CELEngine
	expr     *expressions.ExprEngine
	jq       *expressions.GoJQEngine
	logger   *slog.Logger
}

// NewStepExecutor creates a StepExecutor over the given tool registry.
// The CEL engine may be nil if environment construction fails; cel:
// directives then fail at evaluation with a typed error.
func NewStepExecutor(registry tools.Registry, logger *slog.Logger) *StepExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	celEngine, _ := expressions.NewCELEngine()
	return &StepExecutor{
		registry: registry,
		cel:      celEngine,
		expr:     expressions.NewExprEngine(),
		jq:       expressions.NewGoJQEngine(),
		logger:   logger,
	}
}

// Execute dispatches one step by action kind. It never mutates the
// execution context; recording outcomes is the orchestrator's job.
func (x *StepExecutor) Execute(ctx context.Context, phase *schema.Phase, step *schema.Step, ec *schema.ExecutionContext) *StepResult {
	started := time.Now()
	result := &StepResult{StepID: step.ID}

	ctx = logging.WithPhaseID(ctx, phase.ID)
	ctx = logging.WithStepID(ctx, step.ID)

	switch step.ActionKind {
	case schema.ActionToolCall:
		x.executeToolCall(ctx, step, ec, result)

	case schema.ActionUserInput, schema.ActionDecisionPoint:
		// Cannot complete synchronously; the orchestrator must persist
		// context and suspend.
		result.RequiresFollowUp = true

	case schema.ActionInformationGathering:
		result.Success = true
		result.Output = map[string]any{
			"gathered":    true,
			"description": step.Description,
		}

	case schema.ActionValidation:
		x.executeValidation(ctx, step, ec, result)

	default:
		result.Err = schema.NewErrorf(schema.ErrCodeUnknownAction,
			"unknown action kind %q", step.ActionKind).WithStep(step.ID)
	}

	result.ExecutionTime = time.Since(started)

	if result.Err != nil {
		result.Success = false
		result.CriticalFailure = step.Critical || phase.Critical
		x.logger.WarnContext(ctx, "step failed",
			slog.String("error", result.Err.Error()),
			slog.Bool("critical", result.CriticalFailure))
	}

	return result
}

func (x *StepExecutor) executeToolCall(ctx context.Context, step *schema.Step, ec *schema.ExecutionContext, result *StepResult) {
	if step.ToolName == "" {
		result.Err = schema.NewError(schema.ErrCodeToolUnavailable,
			"tool_call step declares no tool name").WithStep(step.ID)
		return
	}

	args := buildToolArgs(step, ec)
	res, err := x.registry.Execute(ctx, step.ToolName, args)
	if err != nil {
		se, ok := err.(*schema.StrideError)
		if !ok {
			se = schema.NewErrorf(schema.ErrCodeToolExecution,
				"tool %q: %s", step.ToolName, err.Error()).WithCause(err)
		}
		result.Err = se.WithStep(step.ID)
		return
	}

	result.Success = true
	result.Output = res.Result
}

// buildToolArgs derives the tool invocation arguments from the step and
// the outputs of its completed dependencies.
func buildToolArgs(step *schema.Step, ec *schema.ExecutionContext) map[string]any {
	args := map[string]any{
		"step_id":     step.ID,
		"title":       step.Title,
		"description": step.Description,
	}
	if step.SuccessCriteria != "" {
		args["success_criteria"] = step.SuccessCriteria
	}

	deps := make(map[string]any, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if rec, ok := ec.StepRecords[dep]; ok && rec.Status == schema.StepStatusCompleted {
			deps[strconv.Itoa(dep)] = rec.Output
		}
	}
	if len(deps) > 0 {
		args["dependencies"] = deps
	}
	return args
}

// executeValidation checks the recorded outcomes of the steps this step
// validates (its declared dependencies). Sub-checks are ANDed: every
// dependency must have completed, and every cel:/expr:/jq: directive line
// in the success criteria must evaluate truthy against the recorded
// outputs. Free-text criteria lines are descriptive and always pass.
func (x *StepExecutor) executeValidation(ctx context.Context, step *schema.Step, ec *schema.ExecutionContext, result *StepResult) {
	for _, dep := range step.Dependencies {
		rec, ok := ec.StepRecords[dep]
		if !ok || rec.Status != schema.StepStatusCompleted {
			result.Err = schema.NewErrorf(schema.ErrCodeValidationFailed,
				"validated step %d has no completed outcome", dep).WithStep(step.ID)
			return
		}
	}

	scope := validationScope(step, ec)
	checks := 0
	for _, line := range strings.Split(step.SuccessCriteria, "\n") {
		line = strings.TrimSpace(line)
		engine, expression, isDirective := x.directiveEngine(line)
		if !isDirective {
			continue
		}
		checks++
		if engine == nil {
			result.Err = schema.NewErrorf(schema.ErrCodeValidationFailed,
				"criterion %q: expression engine unavailable", line).WithStep(step.ID)
			return
		}

		value, err := engine.Evaluate(ctx, expression, scope)
		if err != nil {
			result.Err = schema.NewErrorf(schema.ErrCodeValidationFailed,
				"criterion %q: %s", line, err.Error()).WithStep(step.ID).WithCause(err)
			return
		}
		if !expressions.Truthy(value) {
			result.Err = schema.NewErrorf(schema.ErrCodeValidationFailed,
				"criterion not met: %q", line).WithStep(step.ID)
			return
		}
	}

	result.Success = true
	result.Output = map[string]any{
		"validated_steps": step.Dependencies,
		"checks":          checks,
	}
}

// directiveEngine maps a criteria line prefix to its expression engine.
// Lines without a directive prefix are free text.
func (x *StepExecutor) directiveEngine(line string) (expressions.Engine, string, bool) {
	switch {
	case strings.HasPrefix(line, "cel:"):
		if x.cel == nil {
			return nil, "", true
		}
		return x.cel, strings.TrimSpace(strings.TrimPrefix(line, "cel:")), true
	case strings.HasPrefix(line, "expr:"):
		return x.expr, strings.TrimSpace(strings.TrimPrefix(line, "expr:")), true
	case strings.HasPrefix(line, "jq:"):
		return x.jq, strings.TrimSpace(strings.TrimPrefix(line, "jq:")), true
	default:
		return nil, "", false
	}
}

// validationScope exposes the validated steps' outputs keyed by step id
// under "steps", e.g. cel: steps["3"].rows > 0.
func validationScope(step *schema.Step, ec *schema.ExecutionContext) map[string]any {
	steps := make(map[string]any, len(step.Dependencies))
	for _, dep := range step.Dependencies {
		if rec, ok := ec.StepRecords[dep]; ok {
			out := rec.Output
			if out == nil {
				out = map[string]any{}
			}
			steps[strconv.Itoa(dep)] = out
		}
	}
	return map[string]any{"steps": steps}
}

// String renders the result for logs.
func (r *StepResult) String() string {
	switch {
	case r.RequiresFollowUp:
		return fmt.Sprintf("step %d awaiting input", r.StepID)
	case r.Success:
		return fmt.Sprintf("step %d completed in %s", r.StepID, r.ExecutionTime)
	default:
		return fmt.Sprintf("step %d failed: %v", r.StepID, r.Err)
	}
}
