package plan

import (
	"fmt"
	"strings"

	"github.com/rendis/stride/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchemaJSON is the JSON Schema for inbound decomposition documents.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://stride.dev/schemas/plan.json",
  "type": "object",
  "required": ["name", "phases"],
  "properties": {
    "id": { "type": "string" },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "phases": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/phase" }
    },
    "milestones": {
      "type": "array",
      "items": { "$ref": "#/$defs/milestone" }
    },
    "critical_path": {
      "type": "array",
      "items": { "type": "integer" }
    },
    "risk_factors": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "phase": {
      "type": "object",
      "required": ["name", "steps"],
      "properties": {
        "id": {
          "type": "integer",
          "minimum": 1
        },
        "name": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "steps": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/step" }
        },
        "deliverables": {
          "type": "array",
          "items": { "type": "string" }
        },
        "success_criteria": {
          "type": "array",
          "items": { "type": "string" }
        },
        "critical": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["step_number", "title", "action_kind"],
      "properties": {
        "step_number": {
          "type": "integer",
          "minimum": 1
        },
        "title": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "action_kind": {
          "type": "string",
          "enum": ["tool_call", "user_input", "information_gathering", "validation", "decision_point"]
        },
        "tool_needed": {
          "type": ["string", "null"]
        },
        "dependencies": {
          "type": "array",
          "items": { "type": "integer" }
        },
        "estimated_time_minutes": {
          "type": "integer",
          "minimum": 0
        },
        "success_criteria": { "type": "string" },
        "priority": {
          "type": "string",
          "enum": ["low", "medium", "high"]
        },
        "critical": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "milestone": {
      "type": "object",
      "required": ["name", "phase_dependencies"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "description": { "type": "string" },
        "phase_dependencies": {
          "type": "array",
          "minItems": 1,
          "items": { "type": "integer" }
        },
        "success_metrics": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

func compilePlanSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://stride.dev/schemas/plan.json", doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}

	compiled, err := c.Compile("https://stride.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return compiled, nil
}

// toStrideError converts a jsonschema.ValidationError into a StrideError
// with clear, actionable messages for agent consumption.
func toStrideError(err error) *schema.StrideError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeDecomposition, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeDecomposition, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeDecomposition, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("plan document failed validation with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeDecomposition, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
