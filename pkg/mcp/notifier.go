package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes notifications to the session owning a workflow.
type Notifier interface {
	Notify(ctx context.Context, workflowID string, payload map[string]any) error
}

// MCPNotifier implements Notifier using MCP SSE push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP SSE.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the workflow's owning session.
// Best-effort: returns nil if no session owns the workflow.
func (n *MCPNotifier) Notify(_ context.Context, workflowID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(workflowID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send; not an error.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
