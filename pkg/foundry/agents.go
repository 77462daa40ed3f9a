package foundry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateAgentVersion publishes a new immutable version under name,
// creating the agent if it does not exist yet. The returned version is
// what response requests resolve when they reference the agent without a
// pinned version.
func (c *Client) CreateAgentVersion(ctx context.Context, name string, def AgentDefinition) (*AgentVersion, error) {
	if name == "" {
		return nil, fmt.Errorf("foundry: agent name is required")
	}
	if def.Kind == "" {
		def.Kind = AgentDefinitionKindPrompt
	}
	if def.Model == "" {
		return nil, fmt.Errorf("foundry: agent definition requires a model deployment")
	}

	body := struct {
		Definition AgentDefinition `json:"definition"`
	}{Definition: def}

	var version AgentVersion
	path := "/" + url.PathEscape(name) + "/versions"
	if err := c.doAgents(ctx, "agents.create_version", http.MethodPost, path, body, &version); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("agent", version.Name).
		Str("version", version.Version).
		Str("model", def.Model).
		Int("tools", len(def.Tools)).
		Msg("Agent version published")
	return &version, nil
}

// GetAgent fetches the agent named name, including its latest version.
func (c *Client) GetAgent(ctx context.Context, name string) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("foundry: agent name is required")
	}
	var agent Agent
	if err := c.doAgents(ctx, "agents.get", http.MethodGet, "/"+url.PathEscape(name), nil, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns every agent in the project.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var page listEnvelope[Agent]
	if err := c.doAgents(ctx, "agents.list", http.MethodGet, "", nil, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// ListAgentVersions returns the published versions of one agent, newest
// first.
func (c *Client) ListAgentVersions(ctx context.Context, name string) ([]AgentVersion, error) {
	if name == "" {
		return nil, fmt.Errorf("foundry: agent name is required")
	}
	var page listEnvelope[AgentVersion]
	path := "/" + url.PathEscape(name) + "/versions"
	if err := c.doAgents(ctx, "agents.list_versions", http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

// DeleteAgentVersion removes a single published version. The agent itself
// and its other versions are untouched.
func (c *Client) DeleteAgentVersion(ctx context.Context, name, version string) error {
	if name == "" {
		return fmt.Errorf("foundry: agent name is required")
	}
	if version == "" {
		return fmt.Errorf("foundry: agent version is required")
	}
	path := "/" + url.PathEscape(name) + "/versions/" + url.PathEscape(version)
	if err := c.doAgents(ctx, "agents.delete_version", http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.logger.Info().Str("agent", name).Str("version", version).Msg("Agent version deleted")
	return nil
}

// DeleteAgent removes the agent and all its versions.
func (c *Client) DeleteAgent(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("foundry: agent name is required")
	}
	if err := c.doAgents(ctx, "agents.delete", http.MethodDelete, "/"+url.PathEscape(name), nil, nil); err != nil {
		return err
	}
	c.logger.Info().Str("agent", name).Msg("Agent deleted")
	return nil
}
