package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/stride/internal/logging"
	planpkg "github.com/rendis/stride/internal/plan"
	"github.com/rendis/stride/internal/statestore"
	"github.com/rendis/stride/internal/tools"
	"github.com/rendis/stride/pkg/schema"
)

// RunResult is returned to the caller after a Run or Resume pass.
// PartialResults always carries the execution context so the caller can
// report or resume progress without re-deriving it.
type RunResult struct {
	WorkflowID string `json:"workflow_id"`
	Success    bool   `json:"success"`

	CompletedSteps int `json:"completed_steps"`
	FailedSteps    int `json:"failed_steps"`
	SkippedSteps   int `json:"skipped_steps"`

	CompletedPhases int `json:"completed_phases"`
	FailedPhases    int `json:"failed_phases"`
	SkippedPhases   int `json:"skipped_phases"`

	ExecutionTime      time.Duration `json:"execution_time"`
	MilestonesAchieved int           `json:"milestones_achieved"`

	Suspended     bool                     `json:"suspended,omitempty"`
	AwaitingInput *schema.InputRequest     `json:"awaiting_input,omitempty"`

	PartialResults *schema.ExecutionContext `json:"partial_results"`
}

// PlanSnapshot is the Status query result.
type PlanSnapshot struct {
	WorkflowID    string                      `json:"workflow_id"`
	Status        schema.PlanStatus           `json:"status"`
	Phases        map[int]schema.PhaseStatus  `json:"phases"`
	Milestones    map[string]*time.Time       `json:"milestones,omitempty"`
	AwaitingInput *schema.InputRequest        `json:"awaiting_input,omitempty"`
	Context       *schema.ExecutionContext    `json:"context,omitempty"`
}

// Runner is the engine's top-level coordinator: it validates plans before
// execution, drives the phase orchestrator, evaluates milestones after each
// phase, persists the execution context through the state store and applies
// adaptations between phases. At most one Run/Resume/Adapt executes per
// workflow id at any time; a concurrent call fails with CONFLICT.
type Runner struct {
	store        statestore.ContextStore
	orchestrator *PhaseOrchestrator
	milestones   *MilestoneEvaluator
	replanner    *AdaptiveReplanner
	fsm          *PlanFSM
	logger       *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	plans    map[string]*schema.WorkflowPlan
}

// NewRunner wires the engine components over the given state store and
// tool registry.
func NewRunner(store statestore.ContextStore, registry tools.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	exec := NewStepExecutor(registry, logger)
	return &Runner{
		store:        store,
		orchestrator: NewPhaseOrchestrator(exec, logger),
		milestones:   NewMilestoneEvaluator(logger),
		replanner:    NewAdaptiveReplanner(logger),
		fsm:          NewPlanFSM(),
		logger:       logger,
		inflight:     make(map[string]struct{}),
		plans:        make(map[string]*schema.WorkflowPlan),
	}
}

// Run validates and executes a new plan from its first phase. Structural
// and graph errors fail before anything is marked in progress.
func (r *Runner) Run(ctx context.Context, plan *schema.WorkflowPlan) (*RunResult, error) {
	if plan == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "plan is nil")
	}
	normalizePlan(plan)
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	if !r.tryAcquire(plan.ID) {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is already executing", plan.ID)
	}
	defer r.release(plan.ID)

	ec := schema.NewExecutionContext(plan.ID)
	if err := r.fsm.Transition(ec, plan, schema.PlanStatusInProgress); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.plans[plan.ID] = plan
	r.mu.Unlock()

	return r.executePhases(ctx, plan, ec)
}

// Resume re-enters a suspended or interrupted plan at the first
// non-completed step. The plan must not be awaiting unresolved input.
func (r *Runner) Resume(ctx context.Context, workflowID string) (*RunResult, error) {
	if !r.tryAcquire(workflowID) {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is already executing", workflowID)
	}
	defer r.release(workflowID)

	plan, ec, err := r.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if plan.Status != schema.PlanStatusInProgress {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"cannot resume plan in status %s", plan.Status)
	}
	if ec.AwaitingInput != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is awaiting input for step %d", workflowID, ec.AwaitingInput.StepID)
	}

	ec.AppendLog(schema.LogEntry{Type: schema.EventPlanResumed})
	return r.executePhases(ctx, plan, ec)
}

// ResolveInput records the supplied payload as the completed outcome of the
// step the workflow suspended on. It does not resume execution; the caller
// issues a separate Resume.
func (r *Runner) ResolveInput(ctx context.Context, workflowID string, payload map[string]any) error {
	if !r.tryAcquire(workflowID) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is already executing", workflowID)
	}
	defer r.release(workflowID)

	plan, ec, err := r.load(ctx, workflowID)
	if err != nil {
		return err
	}
	req := ec.AwaitingInput
	if req == nil {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is not awaiting input", workflowID)
	}

	phase := plan.PhaseByID(req.PhaseID)
	if phase == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "phase %d not found", req.PhaseID)
	}
	step := phase.StepByID(req.StepID)
	if step == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "step %d not found", req.StepID).WithStep(req.StepID)
	}

	if err := transitionStep(ec, req.PhaseID, step, schema.StepStatusCompleted); err != nil {
		return err
	}
	ec.MarkStepCompleted(&schema.StepRecord{
		StepID:  req.StepID,
		PhaseID: req.PhaseID,
		Output:  payload,
	})
	ec.AwaitingInput = nil
	ec.AppendLog(schema.LogEntry{
		Type:    schema.EventInputResolved,
		PhaseID: req.PhaseID,
		StepID:  req.StepID,
	})

	return r.persist(ctx, ec)
}

// Adapt applies an adaptation to a plan between phases and persists the
// audit trail. Terminal plans cannot be adapted.
func (r *Runner) Adapt(ctx context.Context, workflowID string, adaptation schema.Adaptation) error {
	if !r.tryAcquire(workflowID) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %s is already executing", workflowID)
	}
	defer r.release(workflowID)

	plan, ec, err := r.load(ctx, workflowID)
	if err != nil {
		return err
	}
	if plan.Status == schema.PlanStatusCompleted || plan.Status == schema.PlanStatusFailed {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"cannot adapt plan in terminal status %s", plan.Status)
	}

	if err := r.replanner.Apply(ctx, plan, ec, adaptation); err != nil {
		return err
	}
	return r.persist(ctx, ec)
}

// Status returns a snapshot of the plan and its execution context.
func (r *Runner) Status(ctx context.Context, workflowID string) (*PlanSnapshot, error) {
	plan, ec, err := r.load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	phases := make(map[int]schema.PhaseStatus, len(plan.Phases))
	for i := range plan.Phases {
		phases[plan.Phases[i].ID] = plan.Phases[i].Status
	}
	milestones := make(map[string]*time.Time, len(plan.Milestones))
	for i := range plan.Milestones {
		milestones[plan.Milestones[i].Name] = plan.Milestones[i].AchievedAt
	}

	return &PlanSnapshot{
		WorkflowID:    workflowID,
		Status:        plan.Status,
		Phases:        phases,
		Milestones:    milestones,
		AwaitingInput: ec.AwaitingInput,
		Context:       ec,
	}, nil
}

// executePhases drives phases in declared order, evaluating milestones and
// persisting the context after each one. A critical halt fails the plan;
// non-critical phase failures are tolerated and execution continues.
func (r *Runner) executePhases(ctx context.Context, plan *schema.WorkflowPlan, ec *schema.ExecutionContext) (*RunResult, error) {
	ctx = logging.WithPlanID(ctx, plan.ID)
	halted := false

	for i := range plan.Phases {
		phase := &plan.Phases[i]

		switch phase.Status {
		case schema.PhaseStatusCompleted, schema.PhaseStatusFailed:
			continue
		case schema.PhaseStatusSkipped:
			if !ec.PhaseSkipped(phase.ID) {
				ec.MarkPhase(phase.ID, schema.PhaseStatusSkipped)
			}
			continue
		}

		if halted {
			break
		}

		outcome, err := r.orchestrator.RunPhase(ctx, phase, ec)
		if err != nil {
			// Graph or transition error: fatal, nothing further runs.
			r.failPlan(ctx, plan, ec, err)
			return nil, err
		}

		if outcome.Suspended != nil {
			ec.AppendLog(schema.LogEntry{
				Type:    schema.EventPlanSuspended,
				PhaseID: phase.ID,
				StepID:  outcome.Suspended.StepID,
			})
			if err := r.persist(ctx, ec); err != nil {
				return nil, err
			}
			res := r.result(plan, ec, false)
			res.Suspended = true
			res.AwaitingInput = outcome.Suspended
			return res, nil
		}

		r.milestones.Evaluate(ctx, plan, ec)

		if err := r.persist(ctx, ec); err != nil {
			return nil, err
		}

		if outcome.Halted {
			halted = true
			r.logger.WarnContext(ctx, "critical failure, halting workflow",
				slog.Int("phase_id", phase.ID))
		}
	}

	// Terminal transition: completed unless a critical failure halted the
	// run early.
	final := schema.PlanStatusCompleted
	if halted {
		final = schema.PlanStatusFailed
	}
	if plan.Status == schema.PlanStatusInProgress {
		if err := r.fsm.Transition(ec, plan, final); err != nil {
			return nil, err
		}
	}
	if err := r.persist(ctx, ec); err != nil {
		return nil, err
	}

	return r.result(plan, ec, final == schema.PlanStatusCompleted), nil
}

// normalizePlan fills zero-value statuses with their initial states so
// literally constructed plans pass the transition tables.
func normalizePlan(plan *schema.WorkflowPlan) {
	if plan.Status == "" {
		plan.Status = schema.PlanStatusPlanned
	}
	for i := range plan.Phases {
		phase := &plan.Phases[i]
		if phase.Status == "" {
			phase.Status = schema.PhaseStatusPending
		}
		for j := range phase.Steps {
			if phase.Steps[j].Status == "" {
				phase.Steps[j].Status = schema.StepStatusPending
			}
		}
	}
}

// ValidatePlan runs all pre-execution checks: structural emptiness, every
// phase's dependency graph and milestone phase references. It fails before
// any step reaches in_progress.
func ValidatePlan(plan *schema.WorkflowPlan) error {
	return planpkg.Validate(plan)
}

func (r *Runner) failPlan(ctx context.Context, plan *schema.WorkflowPlan, ec *schema.ExecutionContext, cause error) {
	if plan.Status == schema.PlanStatusInProgress {
		_ = r.fsm.Transition(ec, plan, schema.PlanStatusFailed)
	}
	if cause != nil {
		r.logger.ErrorContext(ctx, "plan failed", slog.String("error", cause.Error()))
	}
	_ = r.persist(ctx, ec)
}

func (r *Runner) result(plan *schema.WorkflowPlan, ec *schema.ExecutionContext, success bool) *RunResult {
	return &RunResult{
		WorkflowID:         plan.ID,
		Success:            success,
		CompletedSteps:     len(ec.CompletedSteps),
		FailedSteps:        len(ec.FailedSteps),
		SkippedSteps:       len(ec.SkippedSteps),
		CompletedPhases:    len(ec.CompletedPhases),
		FailedPhases:       len(ec.FailedPhases),
		SkippedPhases:      len(ec.SkippedPhases),
		ExecutionTime:      ec.ExecutionTime,
		MilestonesAchieved: len(ec.MilestoneAchievements),
		PartialResults:     ec,
	}
}

func (r *Runner) persist(ctx context.Context, ec *schema.ExecutionContext) error {
	if err := r.store.Store(ctx, ec); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"persist context %s: %s", ec.WorkflowID, err.Error()).WithCause(err)
	}
	return nil
}

// load fetches the live plan and its persisted context. The plan registry
// is in-memory: a plan unknown to this engine instance is NOT_FOUND even if
// a context survives in the store.
func (r *Runner) load(ctx context.Context, workflowID string) (*schema.WorkflowPlan, *schema.ExecutionContext, error) {
	r.mu.Lock()
	plan, ok := r.plans[workflowID]
	r.mu.Unlock()
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"workflow not found: %s", workflowID)
	}

	ec, err := r.store.Load(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	return plan, ec, nil
}

func (r *Runner) tryAcquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runner) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}
