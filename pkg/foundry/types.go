package foundry

import "strings"

// Agent tool types.
const (
	ToolTypeFileSearch = "file_search"
	ToolTypeFunction   = "function"
	ToolTypeMCP        = "mcp"
)

// Tool is a polymorphic tool entry on an agent definition or response
// request. Only the fields for its Type are populated.
type Tool struct {
	Type string `json:"type"`

	// file_search
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
	MaxNumResults  int      `json:"max_num_results,omitempty"`

	// function
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`

	// mcp
	ServerLabel     string            `json:"server_label,omitempty"`
	ServerURL       string            `json:"server_url,omitempty"`
	AllowedTools    []string          `json:"allowed_tools,omitempty"`
	RequireApproval string            `json:"require_approval,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
}

// FileSearchTool grounds the agent on the given vector stores.
func FileSearchTool(vectorStoreIDs ...string) Tool {
	return Tool{Type: ToolTypeFileSearch, VectorStoreIDs: vectorStoreIDs}
}

// FunctionTool declares a function the caller executes locally. The
// service emits a function_call output item when the model selects it.
func FunctionTool(name, description string, parameters map[string]any) Tool {
	return Tool{
		Type:        ToolTypeFunction,
		Name:        name,
		Description: description,
		Parameters:  parameters,
	}
}

// MCPTool points the agent at a remote MCP server. requireApproval is
// "always" or "never".
func MCPTool(label, serverURL string, allowedTools []string, requireApproval string) Tool {
	return Tool{
		Type:            ToolTypeMCP,
		ServerLabel:     label,
		ServerURL:       serverURL,
		AllowedTools:    allowedTools,
		RequireApproval: requireApproval,
	}
}

// AgentDefinition is the versioned prompt-agent payload.
type AgentDefinition struct {
	Kind         string   `json:"kind"`
	Model        string   `json:"model"`
	Instructions string   `json:"instructions,omitempty"`
	Tools        []Tool   `json:"tools,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
}

// AgentDefinitionKindPrompt is the only definition kind the service
// currently accepts.
const AgentDefinitionKindPrompt = "prompt_agent"

// AgentVersion is one immutable version published under an agent name.
type AgentVersion struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	CreatedAt   int64           `json:"created_at,omitempty"`
	Definition  AgentDefinition `json:"definition"`
}

// Agent groups the versions published under one name.
type Agent struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedAt   int64         `json:"created_at,omitempty"`
	Latest      *AgentVersion `json:"latest_version,omitempty"`
}

// Conversation is a server-side message container. Passing its ID on a
// response request gives the model the full prior context without the
// client resending history.
type Conversation struct {
	ID        string            `json:"id"`
	Object    string            `json:"object,omitempty"`
	CreatedAt int64             `json:"created_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response statuses.
const (
	StatusCompleted  = "completed"
	StatusInProgress = "in_progress"
	StatusQueued     = "queued"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Output item types.
const (
	OutputTypeMessage            = "message"
	OutputTypeFunctionCall       = "function_call"
	OutputTypeMCPApprovalRequest = "mcp_approval_request"
	OutputTypeMCPCall            = "mcp_call"
	OutputTypeFileSearchCall     = "file_search_call"
)

// Annotation marks a citation inside assistant output text.
type Annotation struct {
	Type     string `json:"type"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
	Index    int    `json:"index,omitempty"`
}

// ContentPart is one block of message content.
type ContentPart struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// OutputItem is one entry in a response's output array. Its Type decides
// which fields carry meaning.
type OutputItem struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`

	// message
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// function_call and mcp_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// mcp_approval_request and mcp_call
	ServerLabel string `json:"server_label,omitempty"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ResponseError describes why a response failed.
type ResponseError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Usage reports token consumption for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is one model turn.
type Response struct {
	ID           string         `json:"id"`
	Object       string         `json:"object,omitempty"`
	Status       string         `json:"status"`
	Model        string         `json:"model,omitempty"`
	Conversation string         `json:"conversation,omitempty"`
	Output       []OutputItem   `json:"output"`
	Error        *ResponseError `json:"error,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	CreatedAt    int64          `json:"created_at,omitempty"`
}

// Terminal reports whether the response has finished, successfully or not.
func (r *Response) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusIncomplete, StatusCancelled:
		return true
	}
	return false
}

// OutputText concatenates the text of every assistant message in output
// order. It mirrors the convenience accessor the OpenAI SDKs expose.
func (r *Response) OutputText() string {
	var sb strings.Builder
	for _, item := range r.Output {
		if item.Type != OutputTypeMessage {
			continue
		}
		for _, part := range item.Content {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// FunctionCalls returns the function_call items awaiting local execution.
func (r *Response) FunctionCalls() []OutputItem {
	var calls []OutputItem
	for _, item := range r.Output {
		if item.Type == OutputTypeFunctionCall {
			calls = append(calls, item)
		}
	}
	return calls
}

// ApprovalRequests returns pending mcp_approval_request items.
func (r *Response) ApprovalRequests() []OutputItem {
	var requests []OutputItem
	for _, item := range r.Output {
		if item.Type == OutputTypeMCPApprovalRequest {
			requests = append(requests, item)
		}
	}
	return requests
}

// Input item types accepted on a response request.
const (
	InputTypeMessage             = "message"
	InputTypeFunctionCallOutput  = "function_call_output"
	InputTypeMCPApprovalResponse = "mcp_approval_response"
)

// InputItem is one entry in a structured response input array.
type InputItem struct {
	Type string `json:"type"`

	// message
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// function_call_output
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`

	// mcp_approval_response
	ApprovalRequestID string `json:"approval_request_id,omitempty"`
	Approve           *bool  `json:"approve,omitempty"`
}

// MessageItem builds a message input item.
func MessageItem(role, content string) InputItem {
	return InputItem{Type: InputTypeMessage, Role: role, Content: content}
}

// FunctionCallOutputItem feeds a local tool result back to the model.
// callID must echo the call_id of the function_call being answered.
func FunctionCallOutputItem(callID, output string) InputItem {
	return InputItem{Type: InputTypeFunctionCallOutput, CallID: callID, Output: output}
}

// MCPApprovalResponseItem answers a pending MCP approval request.
func MCPApprovalResponseItem(requestID string, approve bool) InputItem {
	return InputItem{Type: InputTypeMCPApprovalResponse, ApprovalRequestID: requestID, Approve: &approve}
}

// FileCounts summarizes ingestion progress across a vector store.
type FileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// VectorStore is a server-side document index for file search.
type VectorStore struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     string      `json:"status,omitempty"`
	FileCounts *FileCounts `json:"file_counts,omitempty"`
	CreatedAt  int64       `json:"created_at,omitempty"`
}

// Vector store file statuses.
const (
	FileStatusInProgress = "in_progress"
	FileStatusCompleted  = "completed"
	FileStatusFailed     = "failed"
	FileStatusCancelled  = "cancelled"
)

// VectorStoreFile tracks one file's ingestion into a vector store.
type VectorStoreFile struct {
	ID            string         `json:"id"`
	VectorStoreID string         `json:"vector_store_id,omitempty"`
	Status        string         `json:"status"`
	LastError     *ResponseError `json:"last_error,omitempty"`
	CreatedAt     int64          `json:"created_at,omitempty"`
}

// File is an uploaded blob, referenced by ID when attaching to vector
// stores.
type File struct {
	ID        string `json:"id"`
	Filename  string `json:"filename,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// VectorStoreSearchResult is one hit from a vector store query.
type VectorStoreSearchResult struct {
	FileID   string        `json:"file_id"`
	Filename string        `json:"filename,omitempty"`
	Score    float64       `json:"score"`
	Content  []ContentPart `json:"content,omitempty"`
}

// listEnvelope is the shared list response shape.
type listEnvelope[T any] struct {
	Data    []T    `json:"data"`
	HasMore bool   `json:"has_more"`
	LastID  string `json:"last_id,omitempty"`
}
