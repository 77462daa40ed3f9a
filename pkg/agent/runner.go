package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/internal/tracing"
	"github.com/contoso/sofia/pkg/session"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// Runner executes direct-mode chat turns: it carries the conversation in
// local session transcripts and drives the tool loop against an LLM
// provider.
type Runner struct {
	provider     LLMProvider
	executor     *toolexecutor.ToolExecutor
	sessions     *session.Manager
	instructions string
	model        string
	temperature  float64
	maxTokens    int
	maxTurns     int
	maxRetries   int
	toolTimeout  time.Duration
	retryDelay   time.Duration
	logger       zerolog.Logger
}

// Config holds runner configuration
type Config struct {
	Provider     LLMProvider
	Executor     *toolexecutor.ToolExecutor
	Sessions     *session.Manager
	Instructions string
	Model        string
	Temperature  float64
	MaxTokens    int
	MaxTurns     int
	MaxRetries   int
	ToolTimeout  time.Duration
	Logger       zerolog.Logger
}

// NewRunner creates a new direct-mode runner
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Provider == nil {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	}

	instructions := cfg.Instructions
	if instructions == "" {
		instructions = "You are a helpful assistant."
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}

	return &Runner{
		provider:     cfg.Provider,
		executor:     cfg.Executor,
		sessions:     cfg.Sessions,
		instructions: instructions,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxTurns:     maxTurns,
		maxRetries:   maxRetries,
		toolTimeout:  toolTimeout,
		retryDelay:   time.Second,
		logger:       cfg.Logger,
	}, nil
}

// Run executes one chat turn for the session: load history, call the
// provider, execute any tool calls, and persist both sides of the
// exchange.
func (r *Runner) Run(ctx context.Context, sessionKey, userInput string) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if userInput == "" {
		return nil, fmt.Errorf("user input is empty")
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.agent",
		"agent.run",
		attribute.String("session_key", sessionKey),
		attribute.String("mode", "direct"),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_key", sessionKey).Logger()

	start := time.Now()
	success := false
	defer func() {
		observability.RecordChatTurn("direct", time.Since(start), success)
	}()

	history, err := r.sessions.Load(ctx, sessionKey)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	messages := r.buildMessages(history, userInput)
	tools := r.buildTools()

	if err := r.sessions.Append(ctx, sessionKey, session.SessionEntry{
		Role:    "user",
		Content: userInput,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	result, err := r.executeWithTools(ctx, logger, sessionKey, messages, tools)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if result.Reply != "" {
		if err := r.sessions.Append(ctx, sessionKey, session.SessionEntry{
			Role:    "assistant",
			Content: result.Reply,
			Metadata: map[string]interface{}{
				"model": r.model,
				"usage": result.Usage,
			},
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to save assistant reply: %w", err)
		}
	}

	success = true
	logger.Info().
		Int("tool_calls", len(result.ToolCalls)).
		Msg("Chat turn completed")
	return result, nil
}

// buildMessages constructs the message array for the provider: system
// instructions, prior transcript entries, and the new user input.
func (r *Runner) buildMessages(history []session.SessionEntry, userInput string) []AgentMessage {
	messages := make([]AgentMessage, 0, len(history)+2)
	messages = append(messages, AgentMessage{
		Role:    "system",
		Content: r.instructions,
	})

	for _, entry := range history {
		if entry.Role != "user" && entry.Role != "assistant" {
			continue
		}
		messages = append(messages, AgentMessage{
			Role:    entry.Role,
			Content: entry.Content,
		})
	}

	messages = append(messages, AgentMessage{
		Role:    "user",
		Content: userInput,
	})

	return r.compactIfNeeded(messages)
}

// compactIfNeeded compacts messages if they exceed the token budget
func (r *Runner) compactIfNeeded(messages []AgentMessage) []AgentMessage {
	maxTokens := r.maxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	tokenCount := EstimateTokens(messages)
	if tokenCount <= maxTokens {
		return messages
	}

	r.logger.Info().
		Int("token_count", tokenCount).
		Int("max_tokens", maxTokens).
		Msg("Compacting context")

	systemMessages := []AgentMessage{}
	conversationMessages := []AgentMessage{}
	for _, msg := range messages {
		if msg.Role == "system" {
			systemMessages = append(systemMessages, msg)
		} else {
			conversationMessages = append(conversationMessages, msg)
		}
	}

	// Keep the last 20 conversation messages
	recentCount := 20
	if len(conversationMessages) <= recentCount {
		return messages
	}

	recentMessages := conversationMessages[len(conversationMessages)-recentCount:]
	olderCount := len(conversationMessages) - recentCount

	summary := AgentMessage{
		Role:    "system",
		Content: fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", olderCount),
	}

	result := append(systemMessages, summary)
	result = append(result, recentMessages...)

	return result
}

// buildTools converts every registered tool into the provider tool format
func (r *Runner) buildTools() []interface{} {
	defs := r.executor.Definitions()
	if len(defs) == 0 {
		return nil
	}

	tools := make([]interface{}, 0, len(defs))
	for i := range defs {
		def := defs[i]
		tools = append(tools, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": def.Schema(),
		})
	}
	return tools
}

// executeWithTools handles the tool execution loop
func (r *Runner) executeWithTools(ctx context.Context, logger zerolog.Logger, sessionKey string, messages []AgentMessage, tools []interface{}) (*RunResult, error) {
	currentMessages := messages
	allToolCalls := []ToolCall{}

	systemPrompt := ""
	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			break
		}
	}

	for turn := 0; turn < r.maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		response, err := r.callLLMWithRetry(ctx, logger, currentMessages, tools, systemPrompt)
		if err != nil {
			return nil, err
		}

		// No tool calls - we're done
		if len(response.ToolCalls) == 0 {
			return &RunResult{
				Reply:     response.Content,
				ToolCalls: allToolCalls,
				Usage:     response.Usage,
			}, nil
		}

		toolResults := make([]ToolResult, 0, len(response.ToolCalls))
		for _, toolCall := range response.ToolCalls {
			logger.Debug().Str("tool", toolCall.Name).Msg("Executing tool call")
			result := r.executor.Execute(ctx, toolCall.Name, toolCall.Parameters, &toolexecutor.ExecutionContext{
				SessionKey: sessionKey,
				Timeout:    r.toolTimeout,
			})

			toolResults = append(toolResults, ToolResult{
				ToolCallID: toolCall.ID,
				Output:     stringifyOutput(result.Output),
				Error:      result.Error,
			})
		}

		currentMessages = append(currentMessages, AgentMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, result := range toolResults {
			content := result.Output
			if result.Error != "" {
				content = result.Error
			}
			currentMessages = append(currentMessages, AgentMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: result.ToolCallID,
			})
		}

		allToolCalls = append(allToolCalls, response.ToolCalls...)
	}

	return nil, fmt.Errorf("maximum tool execution turns (%d) exceeded", r.maxTurns)
}

// callLLMWithRetry calls the provider with exponential backoff retry
func (r *Runner) callLLMWithRetry(ctx context.Context, logger zerolog.Logger, messages []AgentMessage, tools []interface{}, systemPrompt string) (*LLMResponse, error) {
	request := LLMRequest{
		Model:        r.model,
		Messages:     messages,
		Tools:        tools,
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
		SystemPrompt: systemPrompt,
	}

	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		response, err := r.provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == r.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := r.retryDelay << attempt
		logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

// stringifyOutput renders a tool result for the model. Strings pass
// through, anything structured is serialized as JSON.
func stringifyOutput(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
