package e2e

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stride/internal/engine"
	"github.com/rendis/stride/internal/statestore"
	"github.com/rendis/stride/internal/tools"
	stridemcp "github.com/rendis/stride/pkg/mcp"
)

// --- Test infrastructure ---

// testEnv holds all real dependencies for E2E tests.
type testEnv struct {
	store    *statestore.MemoryStore
	registry *tools.InMemoryRegistry
	runner   *engine.Runner
	server   *stridemcp.StrideServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := statestore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	registry := tools.NewRegistry()
	for _, name := range []string{"compiler", "publisher"} {
		tool := name
		require.NoError(t, registry.Register(&tools.Func{
			ToolName: tool,
			Desc:     "e2e " + tool,
			Fn: func(_ context.Context, args map[string]any) (*tools.Result, error) {
				return &tools.Result{
					Success: true,
					Result:  map[string]any{"tool": tool, "step": args["step_id"]},
				}, nil
			},
		}))
	}

	runner := engine.NewRunner(store, registry, nil)

	server, err := stridemcp.NewStrideServer(stridemcp.StrideServerDeps{
		Runner:   runner,
		Registry: registry,
	})
	require.NoError(t, err)

	return &testEnv{
		store:    store,
		registry: registry,
		runner:   runner,
		server:   server,
	}
}

// callTool invokes a tool handler through the MCP server's HandleMessage
// (full JSON-RPC round-trip).
func (e *testEnv) callTool(t *testing.T, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	reqMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	}
	rawReq, err := json.Marshal(reqMsg)
	require.NoError(t, err)

	initMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    "e2e-test",
				"version": "1.0.0",
			},
		},
	}
	rawInit, err := json.Marshal(initMsg)
	require.NoError(t, err)

	ctx := context.Background()
	mcpSrv := e.server.MCPServer()

	initResp := mcpSrv.HandleMessage(ctx, rawInit)
	require.NotNil(t, initResp)

	resp := mcpSrv.HandleMessage(ctx, rawReq)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

// extractJSON extracts text content from a tool result and parses it as JSON.
func extractJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// extractText extracts text content from a tool result.
func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// --- Plan documents ---

func twoPhaseDoc() map[string]any {
	return map[string]any{
		"name": "release",
		"phases": []any{
			map[string]any{
				"name":     "build",
				"critical": true,
				"steps": []any{
					map[string]any{
						"step_number": 1, "title": "compile",
						"action_kind": "tool_call", "tool_needed": "compiler",
						"critical": true,
					},
					map[string]any{
						"step_number": 2, "title": "check artifacts",
						"action_kind":      "validation",
						"dependencies":     []any{1},
						"success_criteria": "expr: len(steps) == 1",
					},
				},
			},
			map[string]any{
				"name": "publish",
				"steps": []any{
					map[string]any{
						"step_number": 3, "title": "push",
						"action_kind": "tool_call", "tool_needed": "publisher",
					},
				},
			},
		},
		"milestones": []any{
			map[string]any{
				"name":               "released",
				"phase_dependencies": []any{1, 2},
				"success_metrics":    []any{"no_failed_phases"},
			},
		},
	}
}

func decisionDoc() map[string]any {
	return map[string]any{
		"name": "gated rollout",
		"phases": []any{
			map[string]any{
				"name": "rollout",
				"steps": []any{
					map[string]any{
						"step_number": 1, "title": "stage",
						"action_kind": "tool_call", "tool_needed": "compiler",
					},
					map[string]any{
						"step_number": 2, "title": "approve rollout",
						"action_kind":  "decision_point",
						"dependencies": []any{1},
						"description":  "proceed to production?",
					},
					map[string]any{
						"step_number": 3, "title": "ship",
						"action_kind": "tool_call", "tool_needed": "publisher",
						"dependencies": []any{2},
					},
				},
			},
		},
	}
}

// --- Tests ---

func TestE2E_RunPlanToCompletion(t *testing.T) {
	env := newTestEnv(t)

	result := env.callTool(t, "stride.run", map[string]any{"plan": twoPhaseDoc()})
	require.False(t, result.IsError, extractText(t, result))

	var run engine.RunResult
	extractJSON(t, result, &run)
	assert.True(t, run.Success)
	assert.NotEmpty(t, run.WorkflowID)
	assert.Equal(t, 3, run.CompletedSteps)
	assert.Equal(t, 2, run.CompletedPhases)
	assert.Equal(t, 1, run.MilestonesAchieved)

	status := env.callTool(t, "stride.status", map[string]any{"workflow_id": run.WorkflowID})
	require.False(t, status.IsError)

	var snap engine.PlanSnapshot
	extractJSON(t, status, &snap)
	assert.Equal(t, "completed", string(snap.Status))
	assert.NotNil(t, snap.Milestones["released"])
}

func TestE2E_SuspendResolveResume(t *testing.T) {
	env := newTestEnv(t)

	result := env.callTool(t, "stride.run", map[string]any{"plan": decisionDoc()})
	require.False(t, result.IsError, extractText(t, result))

	var run engine.RunResult
	extractJSON(t, result, &run)
	assert.True(t, run.Suspended)
	require.NotNil(t, run.AwaitingInput)
	assert.Equal(t, 2, run.AwaitingInput.StepID)

	status := env.callTool(t, "stride.status", map[string]any{"workflow_id": run.WorkflowID})
	var snap engine.PlanSnapshot
	extractJSON(t, status, &snap)
	assert.Equal(t, "in_progress", string(snap.Status))
	require.NotNil(t, snap.AwaitingInput)

	// Answering the input auto-resumes and runs the plan to completion.
	input := env.callTool(t, "stride.input", map[string]any{
		"workflow_id": run.WorkflowID,
		"payload":     map[string]any{"approved": true},
	})
	require.False(t, input.IsError, extractText(t, input))

	var resumed engine.RunResult
	extractJSON(t, input, &resumed)
	assert.True(t, resumed.Success)
	assert.False(t, resumed.Suspended)
	assert.Equal(t, 3, resumed.CompletedSteps)
}

func TestE2E_AdaptWhileSuspended(t *testing.T) {
	env := newTestEnv(t)

	result := env.callTool(t, "stride.run", map[string]any{"plan": decisionDoc()})
	var run engine.RunResult
	extractJSON(t, result, &run)
	require.True(t, run.Suspended)

	adapt := env.callTool(t, "stride.adapt", map[string]any{
		"workflow_id": run.WorkflowID,
		"adaptation": map[string]any{
			"adaptation_type": "add_steps",
			"phase_id":        1,
			"steps": []any{
				map[string]any{
					"id": 4, "title": "smoke test",
					"action_kind": "tool_call", "tool_name": "compiler",
					"dependencies": []any{3},
				},
			},
		},
	})
	require.False(t, adapt.IsError, extractText(t, adapt))

	input := env.callTool(t, "stride.input", map[string]any{
		"workflow_id": run.WorkflowID,
		"payload":     map[string]any{"approved": true},
	})
	require.False(t, input.IsError, extractText(t, input))

	var resumed engine.RunResult
	extractJSON(t, input, &resumed)
	assert.True(t, resumed.Success)
	assert.Equal(t, 4, resumed.CompletedSteps)
}

func TestE2E_InvalidPlanRejected(t *testing.T) {
	env := newTestEnv(t)

	doc := twoPhaseDoc()
	delete(doc, "name")

	result := env.callTool(t, "stride.run", map[string]any{"plan": doc})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "plan rejected")
}

func TestE2E_CyclicPlanRejected(t *testing.T) {
	env := newTestEnv(t)

	doc := map[string]any{
		"name": "broken",
		"phases": []any{
			map[string]any{
				"name": "loop",
				"steps": []any{
					map[string]any{
						"step_number": 1, "title": "a",
						"action_kind": "tool_call", "tool_needed": "compiler",
						"dependencies": []any{2},
					},
					map[string]any{
						"step_number": 2, "title": "b",
						"action_kind": "tool_call", "tool_needed": "compiler",
						"dependencies": []any{1},
					},
				},
			},
		},
	}

	result := env.callTool(t, "stride.run", map[string]any{"plan": doc})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "1 -> 2 -> 1")
}

func TestE2E_UnknownWorkflowStatus(t *testing.T) {
	env := newTestEnv(t)

	result := env.callTool(t, "stride.status", map[string]any{"workflow_id": "nope"})
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "NOT_FOUND")
}

func TestE2E_ToolListing(t *testing.T) {
	env := newTestEnv(t)

	result := env.callTool(t, "stride.tools", map[string]any{})
	require.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "compiler")
	assert.Contains(t, text, "publisher")
}
