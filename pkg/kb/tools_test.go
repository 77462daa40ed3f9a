package kb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contoso/sofia/pkg/toolexecutor"
)

func TestRegisterTools(t *testing.T) {
	m, dir := newTestManager(t, NewMockEmbeddingProvider(64))
	writeDoc(t, dir, "menu.md", "The Quattro Formaggi blends four Italian cheeses.")

	executor := toolexecutor.New()
	require.NoError(t, m.RegisterTools(executor))

	names := make([]string, 0)
	for _, def := range executor.Definitions() {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "search_knowledge")
}

func TestSearchKnowledgeTool_Execute(t *testing.T) {
	m, dir := newTestManager(t, NewMockEmbeddingProvider(64))
	writeDoc(t, dir, "menu.md", "The Quattro Formaggi blends four Italian cheeses.")

	executor := toolexecutor.New()
	require.NoError(t, m.RegisterTools(executor))

	result := executor.Execute(context.Background(), "search_knowledge", map[string]interface{}{
		"query": "cheeses",
	}, nil)

	require.True(t, result.Success, "execution failed: %s", result.Error)
	payload, ok := result.Output.(*SearchToolResult)
	require.True(t, ok, "unexpected output type %T", result.Output)
	assert.Equal(t, "cheeses", payload.Query)
	assert.Greater(t, payload.Count, 0)
	assert.Contains(t, payload.Results[0].Content, "Quattro Formaggi")
}

func TestSearchKnowledgeTool_RequiresQuery(t *testing.T) {
	m, _ := newTestManager(t, NewMockEmbeddingProvider(64))

	executor := toolexecutor.New()
	require.NoError(t, m.RegisterTools(executor))

	result := executor.Execute(context.Background(), "search_knowledge", map[string]interface{}{}, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "parameter validation failed")
}

func TestSearchKnowledgeTool_TopK(t *testing.T) {
	m, dir := newTestManager(t, NewMockEmbeddingProvider(64))
	for _, name := range []string{"a.md", "b.md", "c.md"} {
		writeDoc(t, dir, name, "Every pie is topped with basil before serving.")
	}

	executor := toolexecutor.New()
	require.NoError(t, m.RegisterTools(executor))

	result := executor.Execute(context.Background(), "search_knowledge", map[string]interface{}{
		"query": "basil",
		"top_k": float64(2),
	}, nil)

	require.True(t, result.Success, "execution failed: %s", result.Error)
	payload, ok := result.Output.(*SearchToolResult)
	require.True(t, ok)
	assert.LessOrEqual(t, payload.Count, 2)
}
