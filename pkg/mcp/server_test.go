package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStrideServer(t *testing.T) {
	s, err := NewStrideServer(StrideServerDeps{})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.decoder)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s, err := NewStrideServer(StrideServerDeps{})
	require.NoError(t, err)

	registered := s.mcpServer.ListTools()
	require.Len(t, registered, 5)

	expectedTools := []string{
		"stride.run",
		"stride.status",
		"stride.input",
		"stride.adapt",
		"stride.tools",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "stride.run", "Execute a decomposed task plan from its first phase"},
		{"status", "stride.status", "Get plan execution status"},
		{"input", "stride.input", "Answer a suspended plan's pending input request"},
		{"adapt", "stride.adapt", "Mutate a live plan between phases: add steps, replace a pending phase's approach, or skip a pending phase"},
		{"tools", "stride.tools", "List the tools registered with the engine"},
	}

	s, err := NewStrideServer(StrideServerDeps{})
	require.NoError(t, err)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
