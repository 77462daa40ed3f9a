package toolexecutor

import (
	"context"
	"fmt"
	"strings"
)

// RegisterMCPServer mirrors an MCP server's tools into the executor.
// Every mirrored tool is named mcp_<label>_<tool> and carries the
// external category so policies can gate all remote tools at once.
// Returns the names that were registered.
func (te *ToolExecutor) RegisterMCPServer(ctx context.Context, adapter *MCPServerAdapter) ([]string, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mcp adapter is required")
	}

	label := strings.TrimSpace(adapter.Label())
	if label == "" {
		return nil, fmt.Errorf("mcp server label is required")
	}

	tools, err := adapter.GetTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch MCP tools: %w", err)
	}

	registered := make([]string, 0, len(tools)+2)
	for _, tool := range tools {
		originalName := tool.Name
		if originalName == "" {
			continue
		}

		tool.Name = fmt.Sprintf("mcp_%s_%s", label, originalName)
		tool.Category = CategoryExternal
		if tool.Description == "" {
			tool.Description = fmt.Sprintf("Tool %s from MCP server %s", originalName, label)
		}
		tool.Handler = func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return adapter.ExecuteTool(ctx, originalName, params)
		}

		if err := te.RegisterTool(tool); err != nil {
			return registered, fmt.Errorf("failed to register MCP tool %s: %w", tool.Name, err)
		}
		registered = append(registered, tool.Name)
	}

	listTool := ToolDefinition{
		Name:        fmt.Sprintf("mcp_%s_resources_list", label),
		Description: fmt.Sprintf("List resources exposed by MCP server %s", label),
		Category:    CategoryExternal,
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			return adapter.ListResources(ctx)
		},
	}
	if err := te.RegisterTool(listTool); err != nil {
		return registered, fmt.Errorf("failed to register MCP resources list tool: %w", err)
	}
	registered = append(registered, listTool.Name)

	readTool := ToolDefinition{
		Name:        fmt.Sprintf("mcp_%s_resource_read", label),
		Description: fmt.Sprintf("Read a resource exposed by MCP server %s", label),
		Category:    CategoryExternal,
		Parameters: []ToolParameter{{
			Name:        "uri",
			Type:        "string",
			Description: "Resource URI",
			Required:    true,
		}},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			uri, _ := params["uri"].(string)
			if strings.TrimSpace(uri) == "" {
				return nil, fmt.Errorf("uri parameter is required")
			}
			return adapter.ReadResource(ctx, uri)
		},
	}
	if err := te.RegisterTool(readTool); err != nil {
		return registered, fmt.Errorf("failed to register MCP resource read tool: %w", err)
	}
	registered = append(registered, readTool.Name)

	return registered, nil
}
