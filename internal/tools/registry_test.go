package tools_test

import (
	"context"
	"testing"

	"github.com/signalnine/cloudeval/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, map[string]any, map[string]string) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.ToolDefinition{Name: "b", Description: "second", Execute: noop}))
	require.NoError(t, r.Register(tools.ToolDefinition{Name: "a", Description: "first", Execute: noop}))

	def, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", def.Description)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"b", "a"}, r.Names())
}

func TestRegistryDuplicate(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.ToolDefinition{Name: "aws_cli", Execute: noop}))
	err := r.Register(tools.ToolDefinition{Name: "aws_cli", Execute: noop})
	assert.ErrorIs(t, err, tools.ErrToolExists)
	assert.Len(t, r.Names(), 1)
}

func TestRegistryRejectsIncompleteTools(t *testing.T) {
	r := tools.NewRegistry()
	assert.Error(t, r.Register(tools.ToolDefinition{Execute: noop}))
	assert.Error(t, r.Register(tools.ToolDefinition{Name: "x"}))
}

func TestDescriptionsOrderAndShape(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.NewAWSCLI(tools.AWSCLIOpts{})))
	require.NoError(t, r.Register(tools.ToolDefinition{
		Name:        "echo",
		Description: "echo",
		Parameters:  map[string]any{"type": "object"},
		Execute:     noop,
	}))

	descs := r.Descriptions()
	require.Len(t, descs, 2)
	assert.Equal(t, "aws_cli", descs[0].Name)
	assert.Equal(t, "echo", descs[1].Name)
	assert.Equal(t, "object", descs[0].Parameters["type"])
	assert.Equal(t, []string{"command"}, descs[0].Parameters["required"])

	// Stable across calls.
	assert.Equal(t, descs, r.Descriptions())
}
