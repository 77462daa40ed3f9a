package toolexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/contoso/sofia/internal/observability"
)

// ToolParameter declares a single parameter for tools that describe
// their inputs inline instead of through a typed schema.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	Category         Category               `json:"category,omitempty"`
	Parameters       []ToolParameter        `json:"parameters,omitempty"`
	InputSchema      map[string]interface{} `json:"input_schema,omitempty"`
	Handler          ToolHandler            `json:"-"`
	ApprovalRequired bool                   `json:"approval_required,omitempty"`
}

// Schema returns the JSON Schema describing the tool's parameters. A
// typed InputSchema wins; otherwise the schema is assembled from the
// Parameters list.
func (td *ToolDefinition) Schema() map[string]interface{} {
	if td.InputSchema != nil {
		return td.InputSchema
	}

	properties := make(map[string]interface{}, len(td.Parameters))
	required := []string{}

	for _, param := range td.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(td.Parameters) > 0 {
		schema["additionalProperties"] = false
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// ExecutionContext provides runtime information for tool execution
type ExecutionContext struct {
	SessionKey     string
	WorkingDir     string
	Timeout        time.Duration
	AgentName      string
	ToolPolicy     *ToolPolicy
	BypassApproval bool
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// RetryConfig controls automatic retries for transient tool failures.
type RetryConfig struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools           map[string]*ToolDefinition
	schemas         map[string]*gojsonschema.Schema
	approvalManager *ApprovalManager
	retry           RetryConfig
	mu              sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
	}

	log.Debug().Msg("Tool executor initialized")

	return te
}

// SetApprovalManager sets the approval manager used to gate tools that
// require approval.
func (te *ToolExecutor) SetApprovalManager(manager *ApprovalManager) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.approvalManager = manager
	log.Info().Msg("Approval manager configured for tool executor")
}

// SetRetryConfig sets the retry behavior for ExecuteWithRetry.
func (te *ToolExecutor) SetRetryConfig(cfg RetryConfig) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.retry = cfg
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def.Schema())
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema

	log.Info().
		Str("tool", def.Name).
		Str("category", string(def.Category.orDefault())).
		Bool("approval_required", def.ApprovalRequired).
		Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
	delete(te.schemas, name)

	log.Info().Str("tool", name).Msg("Tool unregistered")
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tools := make([]string, 0, len(te.tools))
	for name := range te.tools {
		tools = append(tools, name)
	}

	return tools
}

// Definitions returns every registered tool definition sorted by name.
// Agent definitions are assembled from this list, so the order must be
// stable across runs.
func (te *ToolExecutor) Definitions() []ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(te.tools))
	for _, def := range te.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// GetToolCount returns the number of registered tools
func (te *ToolExecutor) GetToolCount() int {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return len(te.tools)
}

// Execute executes a tool with the given parameters
func (te *ToolExecutor) Execute(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	startTime := time.Now()
	actor := executionActor(execCtx)

	te.mu.RLock()
	tool := te.tools[toolName]
	schema := te.schemas[toolName]
	approvalManager := te.approvalManager
	te.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		return te.failure(ctx, toolName, actor, "not_found", startTime, ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		})
	}

	// Policy is evaluated before anything else that could reach the
	// handler.
	if execCtx != nil && execCtx.ToolPolicy != nil {
		if !execCtx.ToolPolicy.Allows(toolName, tool.Category) {
			log.Warn().
				Str("tool", toolName).
				Str("session", actor).
				Msg("Tool execution blocked by policy")
			return te.failure(ctx, toolName, actor, "denied", startTime, ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool '%s' is not allowed by policy", toolName),
				Metadata: map[string]interface{}{
					"policy_violation": true,
				},
			})
		}
	}

	if err := validateParameters(schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		return te.failure(ctx, toolName, actor, "invalid_params", startTime, ToolResult{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		})
	}

	if tool.ApprovalRequired && (execCtx == nil || !execCtx.BypassApproval) {
		if approvalManager == nil {
			return te.failure(ctx, toolName, actor, "approval_denied", startTime, ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool '%s' requires approval but no approval handler is configured", toolName),
				Metadata: map[string]interface{}{
					"approval_denied": true,
				},
			})
		}

		approved, err := approvalManager.RequestApproval(ctx, ApprovalRequest{
			ToolName:   toolName,
			Parameters: params,
			Category:   tool.Category.orDefault(),
			SessionKey: actor,
		})
		if err != nil || !approved {
			reason := "denied"
			if err != nil {
				reason = err.Error()
			}
			return te.failure(ctx, toolName, actor, "approval_denied", startTime, ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool '%s' was not approved: %s", toolName, reason),
				Metadata: map[string]interface{}{
					"approval_denied": true,
				},
			})
		}
	}

	log.Debug().Str("tool", toolName).Msg("Executing tool")

	timeout := 30 * time.Second
	if execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := tool.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(startTime)
		output, truncated := truncateOutput(result)

		log.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Bool("truncated", truncated).
			Msg("Tool execution completed")

		observability.RecordToolExecution(toolName, duration, true)
		observability.RecordToolAudit(ctx, toolName, actor, "success", map[string]interface{}{
			"duration_ms": duration.Milliseconds(),
			"truncated":   truncated,
		})

		return ToolResult{
			Success:   true,
			Output:    output,
			Truncated: truncated,
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case err := <-errChan:
		duration := time.Since(startTime)

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		return te.failure(ctx, toolName, actor, "error", startTime, ToolResult{
			Success: false,
			Error:   err.Error(),
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		})

	case <-timeoutCtx.Done():
		duration := time.Since(startTime)

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return te.failure(ctx, toolName, actor, "timeout", startTime, ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		})
	}
}

// ExecuteWithRetry executes a tool, retrying transient failures with
// exponential backoff. Policy and approval denials are never retried.
func (te *ToolExecutor) ExecuteWithRetry(ctx context.Context, toolName string, params map[string]interface{}, execCtx *ExecutionContext) ToolResult {
	te.mu.RLock()
	cfg := te.retry
	te.mu.RUnlock()

	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		return te.Execute(ctx, toolName, params, execCtx)
	}

	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var result ToolResult
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				result.Error = ctx.Err().Error()
				return result
			}
			backoff *= 2
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		result = te.Execute(ctx, toolName, params, execCtx)
		if result.Success || !isTransientError(result) {
			if attempt > 0 {
				if result.Metadata == nil {
					result.Metadata = map[string]interface{}{}
				}
				result.Metadata["retry_attempts"] = attempt
			}
			return result
		}

		log.Warn().
			Str("tool", toolName).
			Int("attempt", attempt+1).
			Str("error", result.Error).
			Msg("Retrying tool after transient failure")
	}

	if result.Metadata == nil {
		result.Metadata = map[string]interface{}{}
	}
	result.Metadata["retry_attempts"] = cfg.MaxAttempts - 1
	return result
}

// isTransientError reports whether a failed result looks retryable.
// Denials are final regardless of the error text.
func isTransientError(result ToolResult) bool {
	if result.Metadata != nil {
		if v, ok := result.Metadata["policy_violation"].(bool); ok && v {
			return false
		}
		if v, ok := result.Metadata["approval_denied"].(bool); ok && v {
			return false
		}
	}

	msg := strings.ToLower(result.Error)
	for _, marker := range []string{"timeout", "timed out", "connection refused", "connection reset", "temporarily unavailable", "rate limit", "too many requests", "service unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// failure records metrics and audit for a failed execution and returns
// the result unchanged.
func (te *ToolExecutor) failure(ctx context.Context, toolName, actor, status string, startTime time.Time, result ToolResult) ToolResult {
	duration := time.Since(startTime)
	observability.RecordToolExecution(toolName, duration, false)
	observability.RecordToolAudit(ctx, toolName, actor, status, map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"error":       result.Error,
	})
	return result
}

// executionActor returns the audit actor for an execution context.
func executionActor(execCtx *ExecutionContext) string {
	if execCtx != nil && execCtx.SessionKey != "" {
		return execCtx.SessionKey
	}
	return "local"
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if !def.Category.Valid() {
		return fmt.Errorf("invalid tool category %q for %s", def.Category, def.Name)
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// compileSchema compiles a JSON Schema map for parameter validation.
func compileSchema(schemaMap map[string]interface{}) (*gojsonschema.Schema, error) {
	if schemaMap == nil {
		return nil, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, err
	}

	return schema, nil
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

const maxOutputBytes = 10 * 1024

// truncateOutput serializes oversized output and cuts it at the limit
// without splitting a UTF-8 sequence.
func truncateOutput(output interface{}) (interface{}, bool) {
	str, ok := output.(string)
	if !ok {
		data, err := json.Marshal(output)
		if err != nil {
			str = fmt.Sprintf("%v", output)
		} else {
			str = string(data)
		}
	}

	if len(str) <= maxOutputBytes {
		return output, false
	}

	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}

	log.Warn().
		Int("original", len(str)).
		Int("truncated", cut).
		Msg("Output truncated")

	return str[:cut] + "\n... [output truncated]", true
}
