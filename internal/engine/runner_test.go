package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stride/internal/statestore"
	"github.com/rendis/stride/internal/tools"
	"github.com/rendis/stride/pkg/schema"
)

func newTestRunner(t *testing.T, reg tools.Registry) (*Runner, *statestore.MemoryStore) {
	t.Helper()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	store := statestore.NewMemoryStore()
	return NewRunner(store, reg, nil), store
}

// twoPhasePlan: phase 1 (steps 1->2), phase 2 (steps 1->2), milestone on both.
func twoPhasePlan() *schema.WorkflowPlan {
	return &schema.WorkflowPlan{
		Name: "release",
		Phases: []schema.Phase{
			{ID: 1, Name: "prepare", Steps: []schema.Step{
				toolStep(1, "a"),
				toolStep(2, "b", 1),
			}},
			{ID: 2, Name: "ship", Steps: []schema.Step{
				toolStep(3, "c"),
				toolStep(4, "d", 3),
			}},
		},
		Milestones: []schema.Milestone{
			{Name: "released", PhaseDependencies: []int{1, 2}},
		},
	}
}

func TestRunner_CleanRun(t *testing.T) {
	reg := okRegistry(t, "a", "b", "c", "d")
	r, store := newTestRunner(t, reg)

	plan := twoPhasePlan()
	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotEmpty(t, res.WorkflowID)
	assert.Equal(t, 4, res.CompletedSteps)
	assert.Equal(t, 0, res.FailedSteps)
	assert.Equal(t, 0, res.SkippedSteps)
	assert.Equal(t, 2, res.CompletedPhases)
	assert.Equal(t, 1, res.MilestonesAchieved)
	assert.Equal(t, schema.PlanStatusCompleted, plan.Status)
	require.NotNil(t, res.PartialResults)

	// Context was persisted.
	ec, err := store.Load(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.PlanStatusCompleted, ec.PlanStatus)
	assert.Contains(t, ec.MilestoneAchievements, "released")
}

func TestRunner_StructurallyEmptyPlans(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	_, err := r.Run(context.Background(), &schema.WorkflowPlan{Name: "empty"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDecomposition, schema.CodeOf(err))

	_, err = r.Run(context.Background(), &schema.WorkflowPlan{
		Name:   "hollow",
		Phases: []schema.Phase{{ID: 1, Name: "void"}},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDecomposition, schema.CodeOf(err))
}

func TestRunner_DanglingReferenceFailsBeforeExecution(t *testing.T) {
	var calls atomic.Int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Func{
		ToolName: "a",
		Fn: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			calls.Add(1)
			return &tools.Result{Success: true}, nil
		},
	}))
	r, _ := newTestRunner(t, reg)

	// The dangling reference sits in phase 2, but validation covers the
	// whole plan before phase 1 may run.
	plan := &schema.WorkflowPlan{
		Name: "broken",
		Phases: []schema.Phase{
			{ID: 1, Name: "fine", Steps: []schema.Step{toolStep(1, "a")}},
			{ID: 2, Name: "broken", Steps: []schema.Step{toolStep(5, "a", 99)}},
		},
	}

	_, err := r.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDependency, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "99")
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, schema.PlanStatusPlanned, plan.Status)
}

func TestRunner_MilestonePhaseRefValidated(t *testing.T) {
	r, _ := newTestRunner(t, okRegistry(t, "a"))

	plan := &schema.WorkflowPlan{
		Name:   "bad milestone",
		Phases: []schema.Phase{{ID: 1, Name: "only", Steps: []schema.Step{toolStep(1, "a")}}},
		Milestones: []schema.Milestone{
			{Name: "ghost", PhaseDependencies: []int{7}},
		},
	}

	_, err := r.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDependency, schema.CodeOf(err))
}

func TestRunner_CriticalFailureFailsPlan(t *testing.T) {
	var phase2Calls atomic.Int32
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Func{
		ToolName: "boom",
		Fn: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			return nil, errors.New("hard down")
		},
	}))
	require.NoError(t, reg.Register(&tools.Func{
		ToolName: "later",
		Fn: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			phase2Calls.Add(1)
			return &tools.Result{Success: true}, nil
		},
	}))
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name: "doomed",
		Phases: []schema.Phase{
			{ID: 1, Name: "first", Critical: true, Steps: []schema.Step{
				toolStep(1, "boom"),
			}},
			{ID: 2, Name: "second", Steps: []schema.Step{toolStep(2, "later")}},
		},
	}

	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, schema.PlanStatusFailed, plan.Status)
	assert.Equal(t, 1, res.FailedSteps)
	assert.Equal(t, 1, res.FailedPhases)
	assert.Equal(t, int32(0), phase2Calls.Load())

	// Partial results keep everything recorded so far.
	require.NotNil(t, res.PartialResults)
	assert.True(t, res.PartialResults.StepFailed(1))
}

func TestRunner_NonCriticalFailureCompletesPlan(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Func{
		ToolName: "boom",
		Fn: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			return &tools.Result{Success: false, Error: "meh"}, nil
		},
	}))
	require.NoError(t, reg.Register(echoTool("fine")))
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name: "tolerant",
		Phases: []schema.Phase{
			{ID: 1, Name: "first", Steps: []schema.Step{toolStep(1, "boom")}},
			{ID: 2, Name: "second", Steps: []schema.Step{toolStep(2, "fine")}},
		},
	}

	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	// The failed phase is tolerated and the plan completes.
	assert.True(t, res.Success)
	assert.Equal(t, schema.PlanStatusCompleted, plan.Status)
	assert.Equal(t, 1, res.FailedPhases)
	assert.Equal(t, 1, res.CompletedPhases)
}

func TestRunner_SuspendResolveResume(t *testing.T) {
	reg := okRegistry(t, "a", "b")
	r, store := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name: "gated",
		Phases: []schema.Phase{
			{ID: 1, Name: "gate", Steps: []schema.Step{
				toolStep(1, "a"),
				{ID: 2, Title: "approve", ActionKind: schema.ActionDecisionPoint, Dependencies: []int{1}},
				toolStep(3, "b", 2),
			}},
		},
		Milestones: []schema.Milestone{{Name: "done", PhaseDependencies: []int{1}}},
	}

	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Suspended)
	require.NotNil(t, res.AwaitingInput)
	assert.Equal(t, 2, res.AwaitingInput.StepID)
	assert.Equal(t, schema.PlanStatusInProgress, plan.Status)

	// The suspended context is persisted.
	ec, err := store.Load(context.Background(), plan.ID)
	require.NoError(t, err)
	require.NotNil(t, ec.AwaitingInput)

	// Resume before resolving the input conflicts.
	_, err = r.Resume(context.Background(), plan.ID)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	// Status reflects the pending request.
	snap, err := r.Status(context.Background(), plan.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.AwaitingInput)
	assert.Equal(t, schema.PlanStatusInProgress, snap.Status)

	require.NoError(t, r.ResolveInput(context.Background(), plan.ID, map[string]any{"choice": "go"}))

	res, err = r.Resume(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Suspended)
	assert.Equal(t, 3, res.CompletedSteps)
	assert.Equal(t, 1, res.MilestonesAchieved)
	assert.Equal(t, schema.PlanStatusCompleted, plan.Status)

	// The resolved payload became the step's recorded output.
	ec, err = store.Load(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "go", ec.StepRecords[2].Output["choice"])
}

func TestRunner_ResolveInputWithoutSuspension(t *testing.T) {
	reg := okRegistry(t, "a")
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name:   "plain",
		Phases: []schema.Phase{{ID: 1, Name: "only", Steps: []schema.Step{toolStep(1, "a")}}},
	}
	_, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	err = r.ResolveInput(context.Background(), plan.ID, map[string]any{"x": 1})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}

func TestRunner_SameWorkflowSerialized(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&tools.Func{
		ToolName: "slow",
		Fn: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			close(entered)
			<-release
			return &tools.Result{Success: true}, nil
		},
	}))
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		ID:     "wf-serial",
		Name:   "slow",
		Phases: []schema.Phase{{ID: 1, Name: "only", Steps: []schema.Step{toolStep(1, "slow")}}},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), plan)
	}()

	<-entered
	_, err := r.Resume(context.Background(), "wf-serial")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	err = r.Adapt(context.Background(), "wf-serial", schema.Adaptation{Type: schema.AdaptSkipPhase, PhaseID: 1})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	close(release)
	<-done
}

func TestRunner_UnknownWorkflow(t *testing.T) {
	r, _ := newTestRunner(t, nil)

	_, err := r.Resume(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	_, err = r.Status(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	err = r.Adapt(context.Background(), "nope", schema.Adaptation{Type: schema.AdaptSkipPhase, PhaseID: 1})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRunner_AdaptWhileSuspended(t *testing.T) {
	reg := okRegistry(t, "a", "c", "d", "x")
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name: "adaptive",
		Phases: []schema.Phase{
			{ID: 1, Name: "gate", Steps: []schema.Step{
				{ID: 1, ActionKind: schema.ActionUserInput},
			}},
			{ID: 2, Name: "work", Steps: []schema.Step{toolStep(10, "c")}},
		},
		Milestones: []schema.Milestone{{Name: "shipped", PhaseDependencies: []int{2}}},
	}

	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Suspended)

	// Extend the pending phase while suspended.
	require.NoError(t, r.Adapt(context.Background(), plan.ID, schema.Adaptation{
		Type:    schema.AdaptAddSteps,
		PhaseID: 2,
		Steps:   []schema.Step{{ID: 11, ActionKind: schema.ActionToolCall, ToolName: "d", Dependencies: []int{10}}},
	}))

	require.NoError(t, r.ResolveInput(context.Background(), plan.ID, map[string]any{"ok": true}))

	res, err = r.Resume(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.CompletedSteps)
	assert.Equal(t, 1, res.MilestonesAchieved)

	// Adaptation audit survived in the persisted context.
	require.Len(t, res.PartialResults.AdaptiveChanges, 1)
	assert.Equal(t, schema.AdaptAddSteps, res.PartialResults.AdaptiveChanges[0].Type)
}

func TestRunner_SkippedPhaseBlocksMilestone(t *testing.T) {
	reg := okRegistry(t, "a")
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name: "skippy",
		Phases: []schema.Phase{
			{ID: 1, Name: "gate", Steps: []schema.Step{
				{ID: 1, ActionKind: schema.ActionUserInput},
			}},
			{ID: 2, Name: "optional", Steps: []schema.Step{toolStep(2, "a")}},
		},
		Milestones: []schema.Milestone{{Name: "optional done", PhaseDependencies: []int{2}}},
	}

	res, err := r.Run(context.Background(), plan)
	require.NoError(t, err)
	require.True(t, res.Suspended)

	require.NoError(t, r.Adapt(context.Background(), plan.ID, schema.Adaptation{
		Type:    schema.AdaptSkipPhase,
		PhaseID: 2,
		Reason:  "descoped",
	}))
	require.NoError(t, r.ResolveInput(context.Background(), plan.ID, nil))

	res, err = r.Resume(context.Background(), plan.ID)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SkippedPhases)
	assert.Equal(t, 0, res.MilestonesAchieved)
	assert.Nil(t, plan.Milestones[0].AchievedAt)
}

func TestRunner_TerminalPlanCannotAdapt(t *testing.T) {
	reg := okRegistry(t, "a")
	r, _ := newTestRunner(t, reg)

	plan := &schema.WorkflowPlan{
		Name:   "finished",
		Phases: []schema.Phase{{ID: 1, Name: "only", Steps: []schema.Step{toolStep(1, "a")}}},
	}
	_, err := r.Run(context.Background(), plan)
	require.NoError(t, err)

	err = r.Adapt(context.Background(), plan.ID, schema.Adaptation{
		Type:    schema.AdaptAddSteps,
		PhaseID: 1,
		Steps:   []schema.Step{{ID: 9}},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
}
