package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedTool(name string) Tool {
	return Tool{
		Name: name,
		Handler: func(context.Context, ToolCall, map[string]any) (*ToolCallResult, error) {
			return ResultSuccess(name), nil
		},
	}
}

func TestRegistryLookup(t *testing.T) {
	t.Parallel()

	r := NewRegistry(namedTool("alpha"), namedTool("beta"))

	tool, ok := r.Lookup("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", tool.Name)

	_, ok = r.Lookup("gamma")
	assert.False(t, ok)
}

func TestRegistryAllPreservesRegistrationOrder(t *testing.T) {
	t.Parallel()

	r := NewRegistry(namedTool("c"), namedTool("a"), namedTool("b"))

	var names []string
	for _, tool := range r.All() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestRegistryDuplicateKeepsFirst(t *testing.T) {
	t.Parallel()

	first := namedTool("dup")
	first.Description = "the original"
	second := namedTool("dup")
	second.Description = "the usurper"

	r := NewRegistry(first, second)
	assert.Equal(t, 1, r.Len())

	tool, ok := r.Lookup("dup")
	require.True(t, ok)
	assert.Equal(t, "the original", tool.Description)
}

func TestRegistryEmpty(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.All())
}
