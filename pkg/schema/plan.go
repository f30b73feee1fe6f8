package schema

import "time"

// ActionKind enumerates the kinds of work a step can perform.
type ActionKind string

const (
	ActionToolCall             ActionKind = "tool_call"
	ActionUserInput            ActionKind = "user_input"
	ActionInformationGathering ActionKind = "information_gathering"
	ActionValidation           ActionKind = "validation"
	ActionDecisionPoint        ActionKind = "decision_point"
)

// KnownActionKinds is the closed set of recognized action kinds.
var KnownActionKinds = map[ActionKind]bool{
	ActionToolCall:             true,
	ActionUserInput:            true,
	ActionInformationGathering: true,
	ActionValidation:           true,
	ActionDecisionPoint:        true,
}

// Priority is planning metadata carried on steps.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusReady      StepStatus = "ready"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// PhaseStatus represents the lifecycle state of a phase.
type PhaseStatus string

const (
	PhaseStatusPending    PhaseStatus = "pending"
	PhaseStatusInProgress PhaseStatus = "in_progress"
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
	PhaseStatusSkipped    PhaseStatus = "skipped"
)

// PlanStatus represents the lifecycle state of a workflow plan.
// Transitions are monotonic: planned → in_progress → {completed | failed}.
type PlanStatus string

const (
	PlanStatusPlanned    PlanStatus = "planned"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusCompleted  PlanStatus = "completed"
	PlanStatusFailed     PlanStatus = "failed"
)

// Step is the smallest unit of work in a plan. IDs are unique within the
// owning phase's dependency graph.
type Step struct {
	ID               int        `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	ActionKind       ActionKind `json:"action_kind"`
	ToolName         string     `json:"tool_name,omitempty"` // tool_call only
	Dependencies     []int      `json:"dependencies,omitempty"`
	EstimatedMinutes int        `json:"estimated_minutes,omitempty"`
	SuccessCriteria  string     `json:"success_criteria,omitempty"`
	Priority         Priority   `json:"priority,omitempty"`
	Critical         bool       `json:"critical,omitempty"`
	Status           StepStatus `json:"status"`
}

// Phase is an ordered group of steps representing one stage of a plan.
// A phase owns its steps exclusively.
type Phase struct {
	ID              int         `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Steps           []Step      `json:"steps"`
	Deliverables    []string    `json:"deliverables,omitempty"`
	SuccessCriteria []string    `json:"success_criteria,omitempty"`
	Critical        bool        `json:"critical,omitempty"`
	Status          PhaseStatus `json:"status"`
	SkipReason      string      `json:"skip_reason,omitempty"`
}

// StepByID returns a pointer to the step with the given id, or nil.
func (p *Phase) StepByID(id int) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Milestone is a checkpoint achieved once a set of phases has completed
// and its success metrics hold. AchievedAt is written at most once.
type Milestone struct {
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	PhaseDependencies []int      `json:"phase_dependencies"`
	SuccessMetrics    []string   `json:"success_metrics,omitempty"`
	AchievedAt        *time.Time `json:"achieved_at,omitempty"`
}

// WorkflowPlan is the full ordered structure of phases and milestones
// for one task, produced by an external planner.
type WorkflowPlan struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Phases       []Phase     `json:"phases"`
	Milestones   []Milestone `json:"milestones,omitempty"`
	CriticalPath []int       `json:"critical_path,omitempty"`
	RiskFactors  []string    `json:"risk_factors,omitempty"`
	Status       PlanStatus  `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
}

// PhaseByID returns a pointer to the phase with the given id, or nil.
func (p *WorkflowPlan) PhaseByID(id int) *Phase {
	for i := range p.Phases {
		if p.Phases[i].ID == id {
			return &p.Phases[i]
		}
	}
	return nil
}

// PhaseByName returns a pointer to the first phase with the given name, or nil.
func (p *WorkflowPlan) PhaseByName(name string) *Phase {
	for i := range p.Phases {
		if p.Phases[i].Name == name {
			return &p.Phases[i]
		}
	}
	return nil
}

// TotalSteps counts steps across all phases.
func (p *WorkflowPlan) TotalSteps() int {
	n := 0
	for i := range p.Phases {
		n += len(p.Phases[i].Steps)
	}
	return n
}
