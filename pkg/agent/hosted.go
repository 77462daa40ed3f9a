package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contoso/sofia/internal/observability"
	"github.com/contoso/sofia/internal/tracing"
	"github.com/contoso/sofia/pkg/foundry"
	"github.com/contoso/sofia/pkg/session"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

// HostedRunner drives chat turns against a published Foundry agent. The
// service holds the conversation and instructions; this process answers
// the agent's function calls with local tool results and its MCP
// approval requests with approval decisions.
type HostedRunner struct {
	client      *foundry.Client
	agentName   string
	executor    *toolexecutor.ToolExecutor
	sessions    *session.Manager
	approvals   *toolexecutor.ApprovalManager
	maxTurns    int
	toolTimeout time.Duration
	logger      zerolog.Logger

	sessionKey     string
	conversationID string
}

// HostedConfig holds hosted runner configuration
type HostedConfig struct {
	Client      *foundry.Client
	AgentName   string
	Executor    *toolexecutor.ToolExecutor
	Sessions    *session.Manager
	Approvals   *toolexecutor.ApprovalManager
	MaxTurns    int
	ToolTimeout time.Duration
	Logger      zerolog.Logger
}

// NewHostedRunner creates a runner bound to the named published agent.
// Approvals may be nil, in which case every MCP approval request is
// denied.
func NewHostedRunner(cfg HostedConfig) (*HostedRunner, error) {
	observability.EnsureRegistered()

	if cfg.Client == nil {
		return nil, fmt.Errorf("foundry client is required")
	}
	if strings.TrimSpace(cfg.AgentName) == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 30 * time.Second
	}

	return &HostedRunner{
		client:      cfg.Client,
		agentName:   cfg.AgentName,
		executor:    cfg.Executor,
		sessions:    cfg.Sessions,
		approvals:   cfg.Approvals,
		maxTurns:    maxTurns,
		toolTimeout: toolTimeout,
		logger:      cfg.Logger,
	}, nil
}

// Conversation returns the bound conversation ID, empty before
// EnsureConversation.
func (h *HostedRunner) Conversation() string {
	return h.conversationID
}

// EnsureConversation binds the runner to the session's server-side
// conversation, creating one when the session has none or the stored ID
// no longer resolves.
func (h *HostedRunner) EnsureConversation(ctx context.Context, sessionKey string) (string, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.agent",
		"agent.ensure_conversation",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, h.logger).With().Str("session_key", sessionKey).Logger()

	if id, ok := h.sessions.ConversationID(sessionKey); ok {
		_, err := h.client.GetConversation(ctx, id)
		switch {
		case err == nil:
			h.sessionKey = sessionKey
			h.conversationID = id
			logger.Debug().Str("conversation_id", id).Msg("Resuming bound conversation")
			return id, nil
		case foundry.IsNotFound(err):
			logger.Warn().Str("conversation_id", id).Msg("Bound conversation is gone, creating a new one")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("failed to check conversation %s: %w", id, err)
		}
	}

	conv, err := h.client.CreateConversation(ctx, map[string]string{"session_key": sessionKey})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := h.sessions.BindConversation(sessionKey, conv.ID); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist conversation binding")
	}

	h.sessionKey = sessionKey
	h.conversationID = conv.ID
	observability.RecordConversationAudit(ctx, "create", sessionKey, "ok", map[string]interface{}{
		"conversation_id": conv.ID,
	})
	logger.Info().Str("conversation_id", conv.ID).Msg("Conversation created")
	return conv.ID, nil
}

// Run executes one hosted chat turn: submit the user input on the bound
// conversation, then answer function calls and approval requests until
// the agent settles on a final message.
func (h *HostedRunner) Run(ctx context.Context, userInput string) (*RunResult, error) {
	if userInput == "" {
		return nil, fmt.Errorf("user input is empty")
	}
	if h.conversationID == "" {
		return nil, fmt.Errorf("no conversation bound, call EnsureConversation first")
	}

	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionKey(ctx, h.sessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"sofia.agent",
		"agent.run",
		attribute.String("session_key", h.sessionKey),
		attribute.String("conversation_id", h.conversationID),
		attribute.String("mode", "hosted"),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, h.logger).With().Str("session_key", h.sessionKey).Logger()

	start := time.Now()
	success := false
	defer func() {
		observability.RecordChatTurn("hosted", time.Since(start), success)
	}()

	if err := h.sessions.Append(ctx, h.sessionKey, session.SessionEntry{
		Role:    "user",
		Content: userInput,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	resp, err := h.submit(ctx, userInput)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	allToolCalls := []ToolCall{}
	var usage *TokenUsage

	for turn := 0; ; turn++ {
		if u := resp.Usage; u != nil {
			if usage == nil {
				usage = &TokenUsage{}
			}
			usage.InputTokens += u.InputTokens
			usage.OutputTokens += u.OutputTokens
		}

		calls := resp.FunctionCalls()
		requests := resp.ApprovalRequests()
		if len(calls) == 0 && len(requests) == 0 {
			break
		}
		if turn >= h.maxTurns {
			err := fmt.Errorf("maximum tool execution turns (%d) exceeded", h.maxTurns)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		items := make([]foundry.InputItem, 0, len(calls)+len(requests))
		for _, call := range calls {
			output, toolCall := h.executeFunctionCall(ctx, logger, call)
			items = append(items, foundry.FunctionCallOutputItem(call.CallID, output))
			allToolCalls = append(allToolCalls, toolCall)
		}
		for _, request := range requests {
			approved := h.decideApproval(ctx, logger, request)
			items = append(items, foundry.MCPApprovalResponseItem(request.ID, approved))
		}

		resp, err = h.submit(ctx, items)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	reply := resp.OutputText()
	if reply != "" {
		if err := h.sessions.Append(ctx, h.sessionKey, session.SessionEntry{
			Role:    "assistant",
			Content: reply,
			Metadata: map[string]interface{}{
				"response_id": resp.ID,
				"model":       resp.Model,
			},
		}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to save assistant reply: %w", err)
		}
	}

	success = true
	logger.Info().
		Int("tool_calls", len(allToolCalls)).
		Msg("Chat turn completed")
	return &RunResult{
		Reply:     reply,
		ToolCalls: allToolCalls,
		Usage:     usage,
	}, nil
}

// submit runs one response on the bound conversation and waits for it
// to reach a terminal state. input is the user text on the first call
// and a []foundry.InputItem of tool outputs afterwards.
func (h *HostedRunner) submit(ctx context.Context, input any) (*foundry.Response, error) {
	resp, err := h.client.CreateResponse(ctx, foundry.ResponseRequest{
		Conversation: h.conversationID,
		Agent:        foundry.NewAgentReference(h.agentName),
		Input:        input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create response: %w", err)
	}

	resp, err = h.client.WaitForResponse(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("response did not complete: %w", err)
	}
	return resp, nil
}

// executeFunctionCall runs one function_call output item through the
// local executor and renders the outcome for the service.
func (h *HostedRunner) executeFunctionCall(ctx context.Context, logger zerolog.Logger, call foundry.OutputItem) (string, ToolCall) {
	toolCall := ToolCall{ID: call.CallID, Name: call.Name}

	var params map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
			logger.Warn().Err(err).Str("tool", call.Name).Msg("Failed to parse tool arguments")
			return fmt.Sprintf("invalid tool arguments: %v", err), toolCall
		}
	}
	toolCall.Parameters = params

	logger.Debug().Str("tool", call.Name).Msg("Executing function call")
	result := h.executor.Execute(ctx, call.Name, params, &toolexecutor.ExecutionContext{
		SessionKey: h.sessionKey,
		Timeout:    h.toolTimeout,
	})

	output := stringifyOutput(result.Output)
	if result.Error != "" {
		output = result.Error
	}
	return output, toolCall
}

// decideApproval resolves an mcp_approval_request. Without an approval
// manager every request is denied.
func (h *HostedRunner) decideApproval(ctx context.Context, logger zerolog.Logger, request foundry.OutputItem) bool {
	if h.approvals == nil {
		logger.Warn().Str("tool", request.Name).Msg("No approval manager configured, denying MCP call")
		return false
	}

	category := toolexecutor.CategoryExternal
	if def := h.executor.GetTool(request.Name); def != nil {
		category = def.Category
	}

	var params map[string]interface{}
	if request.Arguments != "" {
		if err := json.Unmarshal([]byte(request.Arguments), &params); err != nil {
			logger.Warn().Err(err).Str("tool", request.Name).Msg("Failed to parse approval arguments")
		}
	}

	approved, err := h.approvals.RequestApproval(ctx, toolexecutor.ApprovalRequest{
		ToolName:   request.Name,
		Parameters: params,
		Category:   category,
		SessionKey: h.sessionKey,
	})
	if err != nil {
		logger.Warn().Err(err).Str("tool", request.Name).Msg("Approval request failed, denying MCP call")
		return false
	}

	if !approved {
		logger.Info().Str("tool", request.Name).Msg("MCP call denied")
	}
	return approved
}
