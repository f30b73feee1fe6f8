package engine

import (
	"sync"

	"github.com/rendis/stride/pkg/schema"
)

// TransitionHook is called before or after a plan state transition.
type TransitionHook func(from, to string) error

type planHookKey struct {
	from, to schema.PlanStatus
}

// PlanFSM manages plan lifecycle state transitions. Transitions are
// monotonic: planned -> in_progress -> {completed | failed}, and are
// recorded on the execution log.
type PlanFSM struct {
	mu     sync.Mutex
	before map[planHookKey][]TransitionHook
	after  map[planHookKey][]TransitionHook
}

// NewPlanFSM creates a new PlanFSM.
func NewPlanFSM() *PlanFSM {
	return &PlanFSM{
		before: make(map[planHookKey][]TransitionHook),
		after:  make(map[planHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a plan transition.
func (f *PlanFSM) OnBefore(from, to schema.PlanStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := planHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a plan transition.
func (f *PlanFSM) OnAfter(from, to schema.PlanStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := planHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a plan state transition, appending the
// corresponding event to the execution log. The caller is responsible for
// persisting the context afterwards.
func (f *PlanFSM) Transition(ec *schema.ExecutionContext, plan *schema.WorkflowPlan, to schema.PlanStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := plan.Status
	if !isValidPlanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid plan transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflow_id": plan.ID, "from": string(from), "to": string(to)})
	}

	key := planHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	plan.Status = to
	if eventType := planEventType(to); eventType != "" {
		ec.AppendLog(schema.LogEntry{
			Type:    eventType,
			Payload: map[string]any{"from": string(from), "to": string(to)},
		})
	}
	ec.PlanStatus = to

	for _, hook := range f.after[key] {
		if err := hook(string(from), string(to)); err != nil {
			return err
		}
	}

	return nil
}

func isValidPlanTransition(from, to schema.PlanStatus) bool {
	allowed, ok := ValidPlanTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func planEventType(to schema.PlanStatus) string {
	switch to {
	case schema.PlanStatusInProgress:
		return schema.EventPlanStarted
	case schema.PlanStatusCompleted:
		return schema.EventPlanCompleted
	case schema.PlanStatusFailed:
		return schema.EventPlanFailed
	default:
		return ""
	}
}

// transitionStep validates a step status change and appends the matching
// event. Unlike the plan FSM it carries no hooks; the orchestrator is the
// only caller.
func transitionStep(ec *schema.ExecutionContext, phaseID int, step *schema.Step, to schema.StepStatus) error {
	if !isValidStepTransition(step.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", step.Status, to).
			WithStep(step.ID).
			WithDetails(map[string]any{"phase_id": phaseID, "from": string(step.Status), "to": string(to)})
	}

	from := step.Status
	step.Status = to
	if eventType := stepEventType(to); eventType != "" {
		ec.AppendLog(schema.LogEntry{
			Type:    eventType,
			PhaseID: phaseID,
			StepID:  step.ID,
			Payload: map[string]any{"from": string(from), "to": string(to)},
		})
	}
	return nil
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	allowed, ok := ValidStepTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusInProgress:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusSkipped:
		return schema.EventStepSkipped
	default:
		return ""
	}
}

// transitionPhase validates a phase status change and appends the matching
// event.
func transitionPhase(ec *schema.ExecutionContext, phase *schema.Phase, to schema.PhaseStatus) error {
	if !isValidPhaseTransition(phase.Status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid phase transition: %s -> %s", phase.Status, to).
			WithDetails(map[string]any{"phase_id": phase.ID, "from": string(phase.Status), "to": string(to)})
	}

	from := phase.Status
	phase.Status = to
	if eventType := phaseEventType(to); eventType != "" {
		ec.AppendLog(schema.LogEntry{
			Type:    eventType,
			PhaseID: phase.ID,
			Payload: map[string]any{"from": string(from), "to": string(to)},
		})
	}
	return nil
}

func isValidPhaseTransition(from, to schema.PhaseStatus) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

func phaseEventType(to schema.PhaseStatus) string {
	switch to {
	case schema.PhaseStatusInProgress:
		return schema.EventPhaseStarted
	case schema.PhaseStatusCompleted:
		return schema.EventPhaseCompleted
	case schema.PhaseStatusFailed:
		return schema.EventPhaseFailed
	case schema.PhaseStatusSkipped:
		return schema.EventPhaseSkipped
	default:
		return ""
	}
}

// --- Transition tables ---

// ValidPlanTransitions defines the allowed state transitions for plans.
// Both terminal states are final.
var ValidPlanTransitions = map[schema.PlanStatus][]schema.PlanStatus{
	schema.PlanStatusPlanned:    {schema.PlanStatusInProgress},
	schema.PlanStatusInProgress: {schema.PlanStatusCompleted, schema.PlanStatusFailed},
	schema.PlanStatusCompleted:  {},
	schema.PlanStatusFailed:     {},
}

// ValidPhaseTransitions defines the allowed state transitions for phases.
// skipped -> pending covers a modify_approach adaptation un-skipping a phase.
var ValidPhaseTransitions = map[schema.PhaseStatus][]schema.PhaseStatus{
	schema.PhaseStatusPending:    {schema.PhaseStatusInProgress, schema.PhaseStatusSkipped},
	schema.PhaseStatusInProgress: {schema.PhaseStatusCompleted, schema.PhaseStatusFailed},
	schema.PhaseStatusSkipped:    {schema.PhaseStatusPending},
	schema.PhaseStatusCompleted:  {},
	schema.PhaseStatusFailed:     {},
}

// ValidStepTransitions defines the allowed state transitions for steps.
// A step suspended on external input stays in_progress until resolved.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:    {schema.StepStatusReady, schema.StepStatusSkipped},
	schema.StepStatusReady:      {schema.StepStatusInProgress, schema.StepStatusSkipped},
	schema.StepStatusInProgress: {schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped},
	schema.StepStatusCompleted:  {},
	schema.StepStatusFailed:     {},
	schema.StepStatusSkipped:    {},
}
