package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/pkg/foundry"
	"github.com/contoso/sofia/pkg/pizza"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// MCPServerLabel is the label the published agent uses for this
// service's MCP endpoint.
const MCPServerLabel = "contoso_pizza"

// BuildDefinition assembles the agent definition to publish: Sofia's
// instructions, the model deployment, a file_search tool over the synced
// vector store (when there is one), a function tool per local tool, and
// the MCP wiring back to this service's server.
func BuildDefinition(cfg *config.Config, vectorStoreID string, localTools []toolexecutor.ToolDefinition) (foundry.AgentDefinition, error) {
	if cfg == nil {
		return foundry.AgentDefinition{}, fmt.Errorf("config is required")
	}

	model := strings.TrimSpace(cfg.Foundry.ModelDeployment)
	if model == "" {
		return foundry.AgentDefinition{}, fmt.Errorf("foundry model_deployment is not configured")
	}

	instructions, err := pizza.LoadInstructions(cfg.Agent.InstructionsFile)
	if err != nil {
		return foundry.AgentDefinition{}, err
	}

	temperature := cfg.Agent.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	topP := cfg.Agent.TopP
	if topP == 0 {
		topP = 0.7
	}

	def := foundry.AgentDefinition{
		Kind:         foundry.AgentDefinitionKindPrompt,
		Model:        model,
		Instructions: instructions,
		Temperature:  &temperature,
		TopP:         &topP,
	}

	if vectorStoreID != "" {
		def.Tools = append(def.Tools, foundry.FileSearchTool(vectorStoreID))
	}

	for i := range localTools {
		tool := localTools[i]
		def.Tools = append(def.Tools, foundry.FunctionTool(tool.Name, tool.Description, tool.Schema()))
	}

	if cfg.Server.MCPEnabled {
		def.Tools = append(def.Tools, foundry.MCPTool(
			MCPServerLabel,
			mcpEndpoint(cfg.Server),
			pizza.ToolNames(),
			requireApproval(cfg.Agent.RequireApproval),
		))
	}

	return def, nil
}

// mcpEndpoint derives the MCP URL the published agent calls back to.
// The bind-all address is not a dialable host, so it maps to localhost.
func mcpEndpoint(server config.ServerConfig) string {
	host := server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/mcp", host, server.Port)
}

// requireApproval normalizes the configured mode, defaulting unknown
// values to "always".
func requireApproval(mode string) string {
	if mode == "never" {
		return "never"
	}
	return "always"
}

// Push publishes def as a new version of the named agent. The returned
// version is what agent references resolve from then on.
func Push(ctx context.Context, client *foundry.Client, name string, def foundry.AgentDefinition) (*foundry.AgentVersion, error) {
	if client == nil {
		return nil, fmt.Errorf("foundry client is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	version, err := client.CreateAgentVersion(ctx, name, def)
	if err != nil {
		observability.RecordAgentAudit(ctx, "push", name, "error", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("failed to publish agent %s: %w", name, err)
	}

	observability.RecordAgentAudit(ctx, "push", name, "ok", map[string]interface{}{
		"version": version.Version,
		"tools":   len(def.Tools),
	})
	return version, nil
}
