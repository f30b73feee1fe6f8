package schema

// Event type constants for the append-only execution log.
const (
	EventPlanStarted   = "plan_started"
	EventPlanCompleted = "plan_completed"
	EventPlanFailed    = "plan_failed"
	EventPlanSuspended = "plan_suspended"
	EventPlanResumed   = "plan_resumed"
	EventPlanAdapted   = "plan_adapted"

	EventPhaseStarted   = "phase_started"
	EventPhaseCompleted = "phase_completed"
	EventPhaseFailed    = "phase_failed"
	EventPhaseSkipped   = "phase_skipped"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"

	EventInputRequested = "input_requested"
	EventInputResolved  = "input_resolved"

	EventMilestoneAchieved = "milestone_achieved"
)
