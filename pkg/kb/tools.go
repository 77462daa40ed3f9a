package kb

import (
	"context"
	"fmt"

	"github.com/contoso/sofia/pkg/toolexecutor"
)

// ToolRegistry is the slice of the tool executor the knowledge base
// needs for registration.
type ToolRegistry interface {
	RegisterTool(def toolexecutor.ToolDefinition) error
}

// SearchArgs are the parameters of the search_knowledge tool.
type SearchArgs struct {
	Query string `json:"query" jsonschema_description:"What to look up in the Contoso Pizza knowledge base"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Maximum number of passages to return (default 5)"`
}

// SearchToolResult is the search_knowledge tool's output.
type SearchToolResult struct {
	Query   string   `json:"query"`
	Count   int      `json:"count"`
	Results []Result `json:"results"`
}

// RegisterTools registers the knowledge base tools with the executor.
func (m *Manager) RegisterTools(registry ToolRegistry) error {
	def := toolexecutor.ToolDefinition{
		Name:        "search_knowledge",
		Description: "Search the Contoso Pizza knowledge base for menu details, policies, and company history",
		Category:    toolexecutor.CategoryRead,
		InputSchema: toolexecutor.GenerateSchema[SearchArgs](),
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			args, err := toolexecutor.DecodeParams[SearchArgs](params)
			if err != nil {
				return nil, err
			}
			if args.Query == "" {
				return nil, fmt.Errorf("query is required")
			}

			results, err := m.Search(ctx, args.Query, args.TopK)
			if err != nil {
				return nil, fmt.Errorf("knowledge search failed: %w", err)
			}

			return &SearchToolResult{
				Query:   args.Query,
				Count:   len(results),
				Results: results,
			}, nil
		},
	}

	if err := registry.RegisterTool(def); err != nil {
		return fmt.Errorf("failed to register search_knowledge tool: %w", err)
	}

	m.logger.Info().Msg("Knowledge tools registered")
	return nil
}
