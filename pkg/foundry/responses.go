package foundry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// AgentReference targets a published agent by name instead of an inline
// model configuration. Version is optional; empty means latest.
type AgentReference struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// NewAgentReference references the latest version of the named agent.
func NewAgentReference(name string) *AgentReference {
	return &AgentReference{Type: "agent_reference", Name: name}
}

// ResponseRequest is the body for CreateResponse. Exactly one of Agent
// or Model should be set: Agent delegates instructions and tools to the
// published definition, Model configures the turn inline.
type ResponseRequest struct {
	Conversation    string          `json:"conversation,omitempty"`
	Agent           *AgentReference `json:"agent,omitempty"`
	Model           string          `json:"model,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	Input           any             `json:"input,omitempty"`
	ToolChoice      string          `json:"tool_choice,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Background      bool            `json:"background,omitempty"`
}

// CreateResponse runs one model turn. Input accepts either a plain string
// or a []InputItem carrying tool outputs and approval responses.
func (c *Client) CreateResponse(ctx context.Context, req ResponseRequest) (*Response, error) {
	if req.Agent == nil && req.Model == "" {
		return nil, fmt.Errorf("foundry: response request needs an agent reference or a model")
	}
	if req.Agent != nil && req.Agent.Type == "" {
		req.Agent.Type = "agent_reference"
	}

	var resp Response
	if err := c.doOpenAI(ctx, "responses.create", http.MethodPost, "/responses", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("response_id", resp.ID).
		Str("status", resp.Status).
		Int("output_items", len(resp.Output)).
		Msg("Response created")
	return &resp, nil
}

// GetResponse fetches a response by ID, typically while polling an
// in-progress one.
func (c *Client) GetResponse(ctx context.Context, id string) (*Response, error) {
	if id == "" {
		return nil, fmt.Errorf("foundry: response id is required")
	}
	var resp Response
	if err := c.doOpenAI(ctx, "responses.get", http.MethodGet, "/responses/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForResponse polls until resp reaches a terminal status, then
// returns it. Completed and incomplete responses come back with a nil
// error alongside any partial output; a failed response returns
// ErrResponseFailed with the service's reason.
func (c *Client) WaitForResponse(ctx context.Context, resp *Response) (*Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("foundry: nil response")
	}

	deadline := time.Now().Add(c.pollTimeout)
	for !resp.Terminal() {
		if time.Now().After(deadline) {
			return resp, fmt.Errorf("foundry: response %s still %s after %s", resp.ID, resp.Status, c.pollTimeout)
		}
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return resp, ctx.Err()
		}

		next, err := c.GetResponse(ctx, resp.ID)
		if err != nil {
			return resp, err
		}
		resp = next
	}

	if resp.Status == StatusFailed || resp.Status == StatusCancelled {
		reason := resp.Status
		if resp.Error != nil && resp.Error.Message != "" {
			reason = resp.Error.Message
		}
		return resp, fmt.Errorf("%w: %s", ErrResponseFailed, reason)
	}
	return resp, nil
}
