package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rendis/stride/internal/engine"
	"github.com/rendis/stride/internal/plan"
	"github.com/rendis/stride/internal/tools"
	"github.com/rendis/stride/pkg/schema"
)

// Runner is the engine surface the MCP layer drives.
type Runner interface {
	Run(ctx context.Context, p *schema.WorkflowPlan) (*engine.RunResult, error)
	Resume(ctx context.Context, workflowID string) (*engine.RunResult, error)
	ResolveInput(ctx context.Context, workflowID string, payload map[string]any) error
	Adapt(ctx context.Context, workflowID string, adaptation schema.Adaptation) error
	Status(ctx context.Context, workflowID string) (*engine.PlanSnapshot, error)
}

// StrideServerDeps holds the dependencies for creating a StrideServer.
type StrideServerDeps struct {
	Runner   Runner
	Registry tools.Registry
	Decoder  *plan.Decoder
	Logger   *slog.Logger
}

// StrideServer wraps an MCP server with stride-specific tool handlers.
type StrideServer struct {
	runner    Runner
	registry  tools.Registry
	decoder   *plan.Decoder
	sessions  *SessionRegistry
	notifier  Notifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewStrideServer creates a StrideServer with all 5 tools registered.
func NewStrideServer(deps StrideServerDeps) (*StrideServer, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	decoder := deps.Decoder
	if decoder == nil {
		d, err := plan.NewDecoder()
		if err != nil {
			return nil, err
		}
		decoder = d
	}

	s := &StrideServer{
		runner:   deps.Runner,
		registry: deps.Registry,
		decoder:  decoder,
		sessions: NewSessionRegistry(),
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"stride",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stride executes decomposed task plans. Use stride.run to execute a plan document, stride.status to check progress, stride.input to answer a suspended plan's input request, stride.adapt to mutate a live plan between phases, and stride.tools to list the registered tools."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s, nil
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *StrideServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *StrideServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *StrideServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: inputTool(), Handler: s.handleInput},
		{Tool: adaptTool(), Handler: s.handleAdapt},
		{Tool: toolsTool(), Handler: s.handleTools},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("stride.run",
		mcp.WithDescription("Execute a decomposed task plan from its first phase"),
		mcp.WithObject("plan", mcp.Required(), mcp.Description("Decomposition document: phases of numbered steps plus milestones")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("stride.status",
		mcp.WithDescription("Get plan execution status"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to query")),
	)
}

func inputTool() mcp.Tool {
	return mcp.NewTool("stride.input",
		mcp.WithDescription("Answer a suspended plan's pending input request"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the suspended workflow")),
		mcp.WithObject("payload", mcp.Required(), mcp.Description("Input payload recorded as the awaiting step's output")),
		mcp.WithString("resume", mcp.Description("Resume execution after resolving (default: true)")),
	)
}

func adaptTool() mcp.Tool {
	return mcp.NewTool("stride.adapt",
		mcp.WithDescription("Mutate a live plan between phases: add steps, replace a pending phase's approach, or skip a pending phase"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the target workflow")),
		mcp.WithObject("adaptation", mcp.Required(), mcp.Description("Adaptation object: adaptation_type (add_steps, modify_approach, skip_phase), phase_id, and type-specific fields")),
	)
}

func toolsTool() mcp.Tool {
	return mcp.NewTool("stride.tools",
		mcp.WithDescription("List the tools registered with the engine"),
	)
}
