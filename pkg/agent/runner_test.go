package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/pkg/session"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// mockProvider replays scripted responses and errors in call order and
// records every request it receives.
type mockProvider struct {
	mu        sync.Mutex
	responses []*LLMResponse
	errs      []error
	requests  []LLMRequest
}

func (m *mockProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, request)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &LLMResponse{Content: "done", StopReason: "stop"}, nil
}

func (m *mockProvider) Provider() string { return "mock" }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockProvider) request(i int) LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func newTestExecutor(t *testing.T) *toolexecutor.ToolExecutor {
	t.Helper()

	executor := toolexecutor.New()
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "lookup_special",
		Description: "Look up today's special.",
		Category:    toolexecutor.CategoryRead,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return "Quattro Formaggi at 12.50", nil
		},
	}))
	require.NoError(t, executor.RegisterTool(toolexecutor.ToolDefinition{
		Name:        "broken_tool",
		Description: "Always fails.",
		Category:    toolexecutor.CategoryRead,
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("oven is cold")
		},
	}))
	return executor
}

func newTestRunner(t *testing.T, provider LLMProvider) *Runner {
	t.Helper()

	sessions, err := session.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	runner, err := NewRunner(Config{
		Provider:     provider,
		Executor:     newTestExecutor(t),
		Sessions:     sessions,
		Instructions: "You are a test assistant.",
		Model:        "gpt-4o-mini",
		Temperature:  0.7,
		MaxTokens:    4096,
		Logger:       zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	runner.retryDelay = time.Millisecond
	return runner
}

func TestNewRunner(t *testing.T) {
	sessions, err := session.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	valid := Config{
		Provider: &mockProvider{},
		Executor: toolexecutor.New(),
		Sessions: sessions,
		Model:    "gpt-4o-mini",
		Logger:   zerolog.New(os.Stdout).Level(zerolog.Disabled),
	}

	t.Run("should create runner with valid config", func(t *testing.T) {
		runner, err := NewRunner(valid)
		require.NoError(t, err)
		assert.Equal(t, 10, runner.maxTurns)
		assert.Equal(t, 3, runner.maxRetries)
		assert.Equal(t, 30*time.Second, runner.toolTimeout)
		assert.Equal(t, "You are a helpful assistant.", runner.instructions)
	})

	t.Run("should fail without provider", func(t *testing.T) {
		cfg := valid
		cfg.Provider = nil
		_, err := NewRunner(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("should fail without tool executor", func(t *testing.T) {
		cfg := valid
		cfg.Executor = nil
		_, err := NewRunner(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "tool executor")
	})

	t.Run("should fail without session manager", func(t *testing.T) {
		cfg := valid
		cfg.Sessions = nil
		_, err := NewRunner(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session manager")
	})

	t.Run("should reject empty model", func(t *testing.T) {
		cfg := valid
		cfg.Model = ""
		_, err := NewRunner(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})

	t.Run("should reject invalid temperature", func(t *testing.T) {
		cfg := valid
		cfg.Temperature = 1.5
		_, err := NewRunner(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "temperature")
	})
}

func TestRunner_Run(t *testing.T) {
	t.Run("should complete a plain turn", func(t *testing.T) {
		provider := &mockProvider{
			responses: []*LLMResponse{
				{Content: "Hello from Sofia!", Usage: &TokenUsage{InputTokens: 12, OutputTokens: 5}},
			},
		}
		runner := newTestRunner(t, provider)

		result, err := runner.Run(context.Background(), "cli:test", "hello")
		require.NoError(t, err)
		assert.Equal(t, "Hello from Sofia!", result.Reply)
		assert.Empty(t, result.ToolCalls)
		require.NotNil(t, result.Usage)
		assert.Equal(t, 12, result.Usage.InputTokens)

		request := provider.request(0)
		assert.Equal(t, "gpt-4o-mini", request.Model)
		assert.InDelta(t, 0.7, request.Temperature, 1e-9)
		assert.Equal(t, "You are a test assistant.", request.SystemPrompt)
	})

	t.Run("should persist both sides of the exchange", func(t *testing.T) {
		provider := &mockProvider{
			responses: []*LLMResponse{{Content: "Sure thing."}},
		}
		runner := newTestRunner(t, provider)

		_, err := runner.Run(context.Background(), "cli:persist", "place an order")
		require.NoError(t, err)

		entries, err := runner.sessions.Load(context.Background(), "cli:persist")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "user", entries[0].Role)
		assert.Equal(t, "place an order", entries[0].Content)
		assert.Equal(t, "assistant", entries[1].Role)
		assert.Equal(t, "Sure thing.", entries[1].Content)
	})

	t.Run("should include prior history in the request", func(t *testing.T) {
		provider := &mockProvider{
			responses: []*LLMResponse{{Content: "Still here."}},
		}
		runner := newTestRunner(t, provider)

		require.NoError(t, runner.sessions.Append(context.Background(), "cli:history", session.SessionEntry{
			Role: "user", Content: "what pizzas do you have?",
		}))
		require.NoError(t, runner.sessions.Append(context.Background(), "cli:history", session.SessionEntry{
			Role: "assistant", Content: "Eight of them.",
		}))

		_, err := runner.Run(context.Background(), "cli:history", "and sizes?")
		require.NoError(t, err)

		messages := provider.request(0).Messages
		require.Len(t, messages, 4) // system + two history + current
		assert.Equal(t, "what pizzas do you have?", messages[1].Content)
		assert.Equal(t, "Eight of them.", messages[2].Content)
		assert.Equal(t, "and sizes?", messages[3].Content)
	})

	t.Run("should reject empty input", func(t *testing.T) {
		runner := newTestRunner(t, &mockProvider{})
		_, err := runner.Run(context.Background(), "cli:test", "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "input is empty")
	})
}

func TestRunner_ToolLoop(t *testing.T) {
	t.Run("should execute tool calls and feed results back", func(t *testing.T) {
		provider := &mockProvider{
			responses: []*LLMResponse{
				{ToolCalls: []ToolCall{{ID: "call_1", Name: "lookup_special", Parameters: map[string]interface{}{}}}},
				{Content: "Today's special is Quattro Formaggi."},
			},
		}
		runner := newTestRunner(t, provider)

		result, err := runner.Run(context.Background(), "cli:tools", "what's the special?")
		require.NoError(t, err)
		assert.Equal(t, "Today's special is Quattro Formaggi.", result.Reply)
		require.Len(t, result.ToolCalls, 1)
		assert.Equal(t, "lookup_special", result.ToolCalls[0].Name)

		// Second request carries the assistant echo and the tool result.
		require.Equal(t, 2, provider.callCount())
		messages := provider.request(1).Messages
		last := messages[len(messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Equal(t, "call_1", last.ToolCallID)
		assert.Contains(t, last.Content, "Quattro Formaggi")
		echo := messages[len(messages)-2]
		assert.Equal(t, "assistant", echo.Role)
		require.Len(t, echo.ToolCalls, 1)
		assert.Equal(t, "call_1", echo.ToolCalls[0].ID)
	})

	t.Run("should surface tool errors to the model", func(t *testing.T) {
		provider := &mockProvider{
			responses: []*LLMResponse{
				{ToolCalls: []ToolCall{{ID: "call_9", Name: "broken_tool", Parameters: map[string]interface{}{}}}},
				{Content: "Sorry, that failed."},
			},
		}
		runner := newTestRunner(t, provider)

		result, err := runner.Run(context.Background(), "cli:toolerr", "try the broken one")
		require.NoError(t, err)
		assert.Equal(t, "Sorry, that failed.", result.Reply)

		messages := provider.request(1).Messages
		last := messages[len(messages)-1]
		assert.Equal(t, "tool", last.Role)
		assert.Contains(t, last.Content, "oven is cold")
	})

	t.Run("should stop after max turns", func(t *testing.T) {
		loop := &LLMResponse{
			ToolCalls: []ToolCall{{ID: "call_x", Name: "lookup_special", Parameters: map[string]interface{}{}}},
		}
		provider := &mockProvider{
			responses: []*LLMResponse{loop, loop, loop, loop},
		}
		runner := newTestRunner(t, provider)
		runner.maxTurns = 2

		_, err := runner.Run(context.Background(), "cli:loop", "never settle")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "maximum tool execution turns")
		assert.Equal(t, 2, provider.callCount())
	})
}

func TestRunner_Retry(t *testing.T) {
	t.Run("should retry retryable errors", func(t *testing.T) {
		provider := &mockProvider{
			errs:      []error{errors.New("429 rate limit"), nil},
			responses: []*LLMResponse{nil, {Content: "Recovered."}},
		}
		runner := newTestRunner(t, provider)

		result, err := runner.Run(context.Background(), "cli:retry", "hello")
		require.NoError(t, err)
		assert.Equal(t, "Recovered.", result.Reply)
		assert.Equal(t, 2, provider.callCount())
	})

	t.Run("should fail fast on permanent errors", func(t *testing.T) {
		provider := &mockProvider{
			errs: []error{errors.New("invalid API key")},
		}
		runner := newTestRunner(t, provider)

		_, err := runner.Run(context.Background(), "cli:noretry", "hello")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid API key")
		assert.Equal(t, 1, provider.callCount())
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		provider := &mockProvider{
			errs: []error{
				errors.New("503 service unavailable"),
				errors.New("503 service unavailable"),
				errors.New("503 service unavailable"),
			},
		}
		runner := newTestRunner(t, provider)

		_, err := runner.Run(context.Background(), "cli:exhausted", "hello")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max retries (3) exceeded")
		assert.Equal(t, 3, provider.callCount())
	})
}

func TestRunner_BuildTools(t *testing.T) {
	runner := newTestRunner(t, &mockProvider{})

	tools := runner.buildTools()
	require.Len(t, tools, 2)

	names := []string{}
	for _, tool := range tools {
		toolMap, ok := tool.(map[string]interface{})
		require.True(t, ok)
		names = append(names, toolMap["name"].(string))
		schema, ok := toolMap["input_schema"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "object", schema["type"])
	}
	assert.ElementsMatch(t, []string{"lookup_special", "broken_tool"}, names)
}

func TestCompactIfNeeded(t *testing.T) {
	runner := newTestRunner(t, &mockProvider{})

	t.Run("should not compact under the limit", func(t *testing.T) {
		messages := []AgentMessage{
			{Role: "system", Content: "System"},
			{Role: "user", Content: "Hello"},
		}
		result := runner.compactIfNeeded(messages)
		assert.Len(t, result, 2)
	})

	t.Run("should keep system prompt and recent messages over the limit", func(t *testing.T) {
		runner.maxTokens = 100
		defer func() { runner.maxTokens = 4096 }()

		messages := []AgentMessage{{Role: "system", Content: "System"}}
		for i := 0; i < 30; i++ {
			messages = append(messages, AgentMessage{
				Role:    "user",
				Content: fmt.Sprintf("Message %d with some content to raise the token count", i),
			})
		}

		result := runner.compactIfNeeded(messages)
		assert.Less(t, len(result), len(messages))
		assert.Equal(t, "system", result[0].Role)
		assert.Equal(t, "System", result[0].Content)
		assert.Contains(t, result[1].Content, "Previous conversation summary")
		assert.Equal(t, "Message 29 with some content to raise the token count", result[len(result)-1].Content)
	})
}

func TestNewProvider(t *testing.T) {
	t.Run("should build an openai provider", func(t *testing.T) {
		provider, err := NewProvider(config.AIProfile{
			ID: "p1", Provider: "openai", APIKey: "sk-test",
		})
		require.NoError(t, err)
		assert.Equal(t, "openai", provider.Provider())
	})

	t.Run("should build an anthropic provider", func(t *testing.T) {
		provider, err := NewProvider(config.AIProfile{
			ID: "p2", Provider: "anthropic", APIKey: "sk-ant-test",
		})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", provider.Provider())
	})

	t.Run("should reject a profile without an API key", func(t *testing.T) {
		_, err := NewProvider(config.AIProfile{ID: "p3", Provider: "openai"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := NewProvider(config.AIProfile{ID: "p4", Provider: "cohere", APIKey: "key"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})
}

func TestEstimateTokens(t *testing.T) {
	t.Run("should estimate from message length", func(t *testing.T) {
		messages := []AgentMessage{
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi there"},
		}
		tokens := EstimateTokens(messages)
		assert.Greater(t, tokens, 0)
		assert.Less(t, tokens, 100)
	})

	t.Run("should handle empty messages", func(t *testing.T) {
		assert.Equal(t, 0, EstimateTokens([]AgentMessage{}))
	})
}

func TestIsRetryableError(t *testing.T) {
	t.Run("should identify retryable errors", func(t *testing.T) {
		assert.True(t, IsRetryableError(errors.New("ECONNRESET")))
		assert.True(t, IsRetryableError(errors.New("ETIMEDOUT")))
		assert.True(t, IsRetryableError(errors.New("429 rate limit")))
		assert.True(t, IsRetryableError(errors.New("500 server error")))
		assert.True(t, IsRetryableError(errors.New("502 bad gateway")))
	})

	t.Run("should identify non-retryable errors", func(t *testing.T) {
		assert.False(t, IsRetryableError(errors.New("invalid API key")))
		assert.False(t, IsRetryableError(errors.New("validation failed")))
		assert.False(t, IsRetryableError(nil))
	})
}

func TestStringifyOutput(t *testing.T) {
	assert.Equal(t, "", stringifyOutput(nil))
	assert.Equal(t, "plain text", stringifyOutput("plain text"))
	assert.Equal(t, `{"count":2}`, stringifyOutput(map[string]interface{}{"count": 2}))
}
