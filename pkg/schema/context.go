package schema

import "time"

// StepRecord is the recorded outcome of one executed step. Validation steps
// read these records to check the steps they validate.
type StepRecord struct {
	StepID     int            `json:"step_id"`
	PhaseID    int            `json:"phase_id"`
	Status     StepStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// LogEntry is one immutable entry in the execution log, sequence-numbered
// within its context.
type LogEntry struct {
	Sequence  int64          `json:"sequence"`
	Type      string         `json:"event_type"`
	PhaseID   int            `json:"phase_id,omitempty"`
	StepID    int            `json:"step_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AdaptiveChange is the audit record of one plan adaptation.
type AdaptiveChange struct {
	Type        AdaptationType `json:"type"`
	PhaseID     int            `json:"phase_id"`
	PhaseName   string         `json:"phase_name,omitempty"`
	Description string         `json:"description"`
	AppliedAt   time.Time      `json:"applied_at"`
}

// AdaptationType enumerates the supported plan mutations.
type AdaptationType string

const (
	AdaptAddSteps       AdaptationType = "add_steps"
	AdaptModifyApproach AdaptationType = "modify_approach"
	AdaptSkipPhase      AdaptationType = "skip_phase"
)

// Adaptation is a caller-supplied mutation of a live plan, applied between phases.
type Adaptation struct {
	Type        AdaptationType `json:"adaptation_type"`
	PhaseID     int            `json:"phase_id"`
	Steps       []Step         `json:"steps,omitempty"`       // add_steps, modify_approach
	Description string         `json:"description,omitempty"` // modify_approach
	ReplaceAll  bool           `json:"replace_steps,omitempty"`
	Reason      string         `json:"reason,omitempty"` // skip_phase
}

// InputRequest marks a step awaiting external input (user_input / decision_point).
type InputRequest struct {
	PhaseID     int        `json:"phase_id"`
	StepID      int        `json:"step_id"`
	ActionKind  ActionKind `json:"action_kind"`
	Prompt      string     `json:"prompt,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
}

// ExecutionContext is the mutable, persisted run-time record of a plan's
// progress, keyed by workflow id. It is the unit stored in the state store.
type ExecutionContext struct {
	WorkflowID string     `json:"workflow_id"`
	PlanStatus PlanStatus `json:"plan_status"`

	CompletedSteps []int `json:"completed_steps,omitempty"`
	FailedSteps    []int `json:"failed_steps,omitempty"`
	SkippedSteps   []int `json:"skipped_steps,omitempty"`

	CompletedPhases []int `json:"completed_phases,omitempty"`
	FailedPhases    []int `json:"failed_phases,omitempty"`
	SkippedPhases   []int `json:"skipped_phases,omitempty"`

	// MilestoneAchievements maps milestone name to achievement time,
	// written at most once per milestone.
	MilestoneAchievements map[string]time.Time `json:"milestone_achievements,omitempty"`

	StepRecords map[int]*StepRecord `json:"step_records,omitempty"`

	ExecutionLog    []LogEntry       `json:"execution_log,omitempty"`
	AdaptiveChanges []AdaptiveChange `json:"adaptive_changes,omitempty"`

	// ExecutionTime is the cumulative step execution time.
	ExecutionTime time.Duration `json:"execution_time_ns"`

	// AwaitingInput is set while the plan is suspended at a user_input or
	// decision_point step.
	AwaitingInput *InputRequest `json:"awaiting_input,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewExecutionContext creates an empty context for a workflow id.
func NewExecutionContext(workflowID string) *ExecutionContext {
	now := time.Now().UTC()
	return &ExecutionContext{
		WorkflowID:            workflowID,
		PlanStatus:            PlanStatusPlanned,
		MilestoneAchievements: make(map[string]time.Time),
		StepRecords:           make(map[int]*StepRecord),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func appendUnique(s []int, v int) []int {
	if containsInt(s, v) {
		return s
	}
	return append(s, v)
}

// StepCompleted reports whether the step ended in completed.
func (c *ExecutionContext) StepCompleted(id int) bool { return containsInt(c.CompletedSteps, id) }

// StepFailed reports whether the step ended in failed.
func (c *ExecutionContext) StepFailed(id int) bool { return containsInt(c.FailedSteps, id) }

// StepSkipped reports whether the step was skipped.
func (c *ExecutionContext) StepSkipped(id int) bool { return containsInt(c.SkippedSteps, id) }

// PhaseCompleted reports whether the phase is in the completed set.
func (c *ExecutionContext) PhaseCompleted(id int) bool { return containsInt(c.CompletedPhases, id) }

// PhaseFailed reports whether the phase is in the failed set.
func (c *ExecutionContext) PhaseFailed(id int) bool { return containsInt(c.FailedPhases, id) }

// PhaseSkipped reports whether the phase is in the skipped set.
func (c *ExecutionContext) PhaseSkipped(id int) bool { return containsInt(c.SkippedPhases, id) }

// MarkStepCompleted records a completed step outcome.
func (c *ExecutionContext) MarkStepCompleted(rec *StepRecord) {
	rec.Status = StepStatusCompleted
	c.CompletedSteps = appendUnique(c.CompletedSteps, rec.StepID)
	c.recordStep(rec)
}

// MarkStepFailed records a failed step outcome.
func (c *ExecutionContext) MarkStepFailed(rec *StepRecord) {
	rec.Status = StepStatusFailed
	c.FailedSteps = appendUnique(c.FailedSteps, rec.StepID)
	c.recordStep(rec)
}

// MarkStepSkipped records a skipped step.
func (c *ExecutionContext) MarkStepSkipped(rec *StepRecord) {
	rec.Status = StepStatusSkipped
	c.SkippedSteps = appendUnique(c.SkippedSteps, rec.StepID)
	c.recordStep(rec)
}

func (c *ExecutionContext) recordStep(rec *StepRecord) {
	if c.StepRecords == nil {
		c.StepRecords = make(map[int]*StepRecord)
	}
	c.StepRecords[rec.StepID] = rec
	c.UpdatedAt = time.Now().UTC()
}

// MarkPhase records a terminal phase outcome in the matching set.
func (c *ExecutionContext) MarkPhase(id int, status PhaseStatus) {
	switch status {
	case PhaseStatusCompleted:
		c.CompletedPhases = appendUnique(c.CompletedPhases, id)
	case PhaseStatusFailed:
		c.FailedPhases = appendUnique(c.FailedPhases, id)
	case PhaseStatusSkipped:
		c.SkippedPhases = appendUnique(c.SkippedPhases, id)
	}
	c.UpdatedAt = time.Now().UTC()
}

// AppendLog appends an entry to the execution log with the next sequence number.
func (c *ExecutionContext) AppendLog(entry LogEntry) {
	entry.Sequence = int64(len(c.ExecutionLog)) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	c.ExecutionLog = append(c.ExecutionLog, entry)
	c.UpdatedAt = entry.Timestamp
}

// AppendChange appends an adaptation audit record.
func (c *ExecutionContext) AppendChange(change AdaptiveChange) {
	if change.AppliedAt.IsZero() {
		change.AppliedAt = time.Now().UTC()
	}
	c.AdaptiveChanges = append(c.AdaptiveChanges, change)
	c.UpdatedAt = change.AppliedAt
}
