package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/stride/internal/engine"
	"github.com/rendis/stride/pkg/schema"
)

// handleRun decodes and executes a plan document.
func (s *StrideServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "plan", nil)
	if doc == nil {
		return mcp.NewToolResultError("plan is required"), nil
	}

	raw, marshalErr := json.Marshal(doc)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid plan: %v", marshalErr)), nil
	}

	p, decodeErr := s.decoder.Decode(raw)
	if decodeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan rejected: %v", decodeErr)), nil
	}

	// Capture session mapping so suspensions can be pushed back.
	s.captureSession(ctx, p.ID)

	result, runErr := s.runner.Run(ctx, p)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan execution failed: %v", runErr)), nil
	}

	s.notifyIfSuspended(ctx, result)
	return marshalResult(result)
}

// handleStatus returns the current state of a workflow.
func (s *StrideServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	status, statusErr := s.runner.Status(ctx, workflowID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}

	return marshalResult(status)
}

// handleInput resolves a pending input request and, unless told otherwise,
// resumes the plan so the agent doesn't have to make a separate call.
func (s *StrideServer) handleInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	payload := mcp.ParseStringMap(req, "payload", nil)
	if payload == nil {
		return mcp.NewToolResultError("payload is required"), nil
	}

	s.captureSession(ctx, workflowID)

	if resolveErr := s.runner.ResolveInput(ctx, workflowID, payload); resolveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("input rejected: %v", resolveErr)), nil
	}

	if req.GetString("resume", "true") == "false" {
		return marshalResult(map[string]any{
			"ok":          true,
			"workflow_id": workflowID,
			"resumed":     false,
		})
	}

	result, resumeErr := s.runner.Resume(ctx, workflowID)
	if resumeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("input accepted but resume failed: %v", resumeErr)), nil
	}

	s.notifyIfSuspended(ctx, result)
	return marshalResult(result)
}

// handleAdapt applies a plan mutation between phases.
func (s *StrideServer) handleAdapt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	adaptRaw := mcp.ParseStringMap(req, "adaptation", nil)
	if adaptRaw == nil {
		return mcp.NewToolResultError("adaptation is required"), nil
	}

	// Marshal then unmarshal to get a typed Adaptation.
	raw, marshalErr := json.Marshal(adaptRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid adaptation: %v", marshalErr)), nil
	}
	var adaptation schema.Adaptation
	if unmarshalErr := json.Unmarshal(raw, &adaptation); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid adaptation: %v", unmarshalErr)), nil
	}

	if adaptErr := s.runner.Adapt(ctx, workflowID, adaptation); adaptErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("adaptation failed: %v", adaptErr)), nil
	}

	return marshalResult(map[string]any{
		"ok":              true,
		"workflow_id":     workflowID,
		"adaptation_type": adaptation.Type,
		"phase_id":        adaptation.PhaseID,
	})
}

// handleTools lists the registered engine tools.
func (s *StrideServer) handleTools(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.registry == nil {
		return marshalResult(map[string]any{"tools": []any{}})
	}
	return marshalResult(map[string]any{"tools": s.registry.List()})
}

// --- Internal helpers ---

// captureSession maps the workflow ID to its current MCP session for notifications.
func (s *StrideServer) captureSession(ctx context.Context, workflowID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(workflowID, session.SessionID())
	}
}

// notifyIfSuspended pushes an input_required notification to the session
// that owns the workflow. Best-effort.
func (s *StrideServer) notifyIfSuspended(ctx context.Context, result *engine.RunResult) {
	if result == nil || result.AwaitingInput == nil {
		return
	}
	payload := map[string]any{
		"type":        "input_required",
		"workflow_id": result.WorkflowID,
		"phase_id":    result.AwaitingInput.PhaseID,
		"step_id":     result.AwaitingInput.StepID,
		"prompt":      result.AwaitingInput.Prompt,
	}
	if err := s.notifier.Notify(ctx, result.WorkflowID, payload); err != nil {
		s.logger.WarnContext(ctx, "input notification failed",
			"workflow_id", result.WorkflowID, "error", err.Error())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
