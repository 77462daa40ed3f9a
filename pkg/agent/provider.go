package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/contoso/sofia/internal/config"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for an LLM call
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []interface{}
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from the LLM
type LLMResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      *TokenUsage
	StopReason string
}

// NewProvider creates an LLM provider from an AI profile. OpenAI
// profiles may carry a BaseURL for OpenAI-compatible endpoints.
func NewProvider(profile config.AIProfile) (LLMProvider, error) {
	if strings.TrimSpace(profile.APIKey) == "" {
		return nil, fmt.Errorf("profile %q has no API key", profile.ID)
	}

	switch profile.Provider {
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
