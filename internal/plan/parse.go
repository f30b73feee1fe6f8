// Package plan decodes decomposition documents produced by an external
// planner into executable workflow plans. Decoding validates the document
// against an embedded JSON Schema, converts the wire shape into the engine
// data model and runs the structural checks that a schema cannot express.
package plan

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/stride/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// wireStep is one step as the planner emits it.
type wireStep struct {
	StepNumber           int     `json:"step_number"`
	Title                string  `json:"title"`
	Description          string  `json:"description"`
	ActionKind           string  `json:"action_kind"`
	ToolNeeded           *string `json:"tool_needed"`
	Dependencies         []int   `json:"dependencies"`
	EstimatedTimeMinutes int     `json:"estimated_time_minutes"`
	SuccessCriteria      string  `json:"success_criteria"`
	Priority             string  `json:"priority"`
	Critical             bool    `json:"critical"`
}

type wirePhase struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Steps           []wireStep `json:"steps"`
	Deliverables    []string   `json:"deliverables"`
	SuccessCriteria []string   `json:"success_criteria"`
	Critical        bool       `json:"critical"`
}

type wireMilestone struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	PhaseDependencies []int    `json:"phase_dependencies"`
	SuccessMetrics    []string `json:"success_metrics"`
}

type wirePlan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Phases       []wirePhase     `json:"phases"`
	Milestones   []wireMilestone `json:"milestones"`
	CriticalPath []int           `json:"critical_path"`
	RiskFactors  []string        `json:"risk_factors"`
}

// Decoder turns planner documents into WorkflowPlans. It is safe for
// concurrent use; the plan schema is compiled once at construction.
type Decoder struct {
	planSchema *jsonschema.Schema
}

// NewDecoder creates a Decoder with the plan schema pre-compiled.
func NewDecoder() (*Decoder, error) {
	compiled, err := compilePlanSchema()
	if err != nil {
		return nil, err
	}
	return &Decoder{planSchema: compiled}, nil
}

// Decode parses and validates a raw decomposition document. Documents that
// fail schema validation, carry duplicate ids or reference missing steps or
// phases are rejected before conversion returns.
func (d *Decoder) Decode(data []byte) (*schema.WorkflowPlan, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDecomposition,
			"plan document is not valid JSON").WithCause(err)
	}
	if err := d.planSchema.Validate(doc); err != nil {
		return nil, toStrideError(err)
	}

	var w wirePlan
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, schema.NewError(schema.ErrCodeDecomposition,
			"plan document does not match the expected shape").WithCause(err)
	}

	p := w.toPlan()
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (w *wirePlan) toPlan() *schema.WorkflowPlan {
	p := &schema.WorkflowPlan{
		ID:           w.ID,
		Name:         w.Name,
		Phases:       make([]schema.Phase, 0, len(w.Phases)),
		CriticalPath: w.CriticalPath,
		RiskFactors:  w.RiskFactors,
		Status:       schema.PlanStatusPlanned,
		CreatedAt:    time.Now().UTC(),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	for i, wp := range w.Phases {
		phase := schema.Phase{
			ID:              wp.ID,
			Name:            wp.Name,
			Description:     wp.Description,
			Steps:           make([]schema.Step, 0, len(wp.Steps)),
			Deliverables:    wp.Deliverables,
			SuccessCriteria: wp.SuccessCriteria,
			Critical:        wp.Critical,
			Status:          schema.PhaseStatusPending,
		}
		// Planner documents may omit phase ids; positions are 1-based.
		if phase.ID == 0 {
			phase.ID = i + 1
		}
		for _, ws := range wp.Steps {
			phase.Steps = append(phase.Steps, ws.toStep())
		}
		p.Phases = append(p.Phases, phase)
	}

	for _, wm := range w.Milestones {
		p.Milestones = append(p.Milestones, schema.Milestone{
			Name:              wm.Name,
			Description:       wm.Description,
			PhaseDependencies: wm.PhaseDependencies,
			SuccessMetrics:    wm.SuccessMetrics,
		})
	}

	return p
}

func (w *wireStep) toStep() schema.Step {
	s := schema.Step{
		ID:               w.StepNumber,
		Title:            w.Title,
		Description:      w.Description,
		ActionKind:       schema.ActionKind(w.ActionKind),
		Dependencies:     w.Dependencies,
		EstimatedMinutes: w.EstimatedTimeMinutes,
		SuccessCriteria:  w.SuccessCriteria,
		Priority:         schema.Priority(w.Priority),
		Critical:         w.Critical,
		Status:           schema.StepStatusPending,
	}
	if w.ToolNeeded != nil {
		s.ToolName = *w.ToolNeeded
	}
	return s
}
