package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/contoso/sofia/pkg/toolexecutor"
)

// mcpHandler serves the local tool set over streamable-HTTP MCP. The
// published agent calls back into this endpoint, so approval prompts
// are bypassed; the configured tool policy is the remaining guard.
type mcpHandler struct {
	executor *toolexecutor.ToolExecutor
	policy   *toolexecutor.ToolPolicy
	logger   zerolog.Logger
	version  string
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[string]time.Time
}

func newMCPHandler(executor *toolexecutor.ToolExecutor, timeout time.Duration) *mcpHandler {
	return &mcpHandler{
		executor: executor,
		logger:   zerolog.Nop(),
		version:  "dev",
		timeout:  timeout,
		sessions: make(map[string]time.Time),
	}
}

func (h *mcpHandler) handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *mcpHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: ParseError, Message: "failed to read request body"},
		})
		return
	}

	// One message per POST; batches are not part of the streamable
	// HTTP transport.
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: InvalidRequest, Message: "batch requests are not supported"},
		})
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: ParseError, Message: "invalid JSON-RPC message"},
		})
		return
	}
	if req.JSONRPC != "2.0" {
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: InvalidRequest, Message: "jsonrpc must be \"2.0\""},
		})
		return
	}

	// Notifications get acknowledged and dropped.
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		h.handleInitialize(w, req)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if !h.validSession(sessionID) {
		writeRPC(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: InvalidRequest, Message: "missing or unknown Mcp-Session-Id"},
		})
		return
	}

	var result interface{}
	var rpcErr *rpcError

	switch req.Method {
	case "ping":
		result = map[string]interface{}{}
	case "tools/list":
		result = h.listTools()
	case "tools/call":
		result, rpcErr = h.callTool(r, sessionID, req.Params)
	default:
		rpcErr = &rpcError{Code: MethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	writeRPC(w, http.StatusOK, resp)
}

func (h *mcpHandler) handleInitialize(w http.ResponseWriter, req rpcRequest) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name string `json:"name"`
		} `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		json.Unmarshal(req.Params, &params)
	}

	sessionID, err := gonanoid.New()
	if err != nil {
		writeRPC(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: InternalError, Message: "failed to create session"},
		})
		return
	}

	h.mu.Lock()
	h.sessions[sessionID] = time.Now()
	h.mu.Unlock()

	h.logger.Info().
		Str("session", sessionID).
		Str("client", params.ClientInfo.Name).
		Str("protocol", params.ProtocolVersion).
		Msg("MCP session initialized")

	w.Header().Set("Mcp-Session-Id", sessionID)
	writeRPC(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": mcpProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    mcpServerName,
				"version": h.version,
			},
		},
	})
}

func (h *mcpHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")

	h.mu.Lock()
	_, exists := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	if sessionID == "" || !exists {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	h.logger.Debug().Str("session", sessionID).Msg("MCP session ended")
	w.WriteHeader(http.StatusNoContent)
}

func (h *mcpHandler) validSession(id string) bool {
	if id == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[id]
	return ok
}

func (h *mcpHandler) listTools() map[string]interface{} {
	defs := h.executor.Definitions()
	tools := make([]map[string]interface{}, 0, len(defs))
	for i := range defs {
		def := defs[i]
		tools = append(tools, map[string]interface{}{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.Schema(),
		})
	}
	return map[string]interface{}{"tools": tools}
}

func (h *mcpHandler) callTool(r *http.Request, sessionID string, rawParams json.RawMessage) (interface{}, *rpcError) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return nil, &rpcError{Code: InvalidParams, Message: "invalid tools/call params"}
		}
	}
	if params.Name == "" {
		return nil, &rpcError{Code: InvalidParams, Message: "tool name is required"}
	}
	if h.executor.GetTool(params.Name) == nil {
		return nil, &rpcError{Code: InvalidParams, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}

	execCtx := &toolexecutor.ExecutionContext{
		SessionKey:     "mcp:" + sessionID,
		Timeout:        h.timeout,
		ToolPolicy:     h.policy,
		BypassApproval: true,
	}

	h.logger.Debug().
		Str("session", sessionID).
		Str("tool", params.Name).
		Msg("Executing MCP tool call")

	result := h.executor.Execute(r.Context(), params.Name, params.Arguments, execCtx)

	text := result.Error
	if result.Success {
		text = renderToolOutput(result.Output)
	}

	content := []map[string]interface{}{}
	if text != "" {
		content = append(content, map[string]interface{}{"type": "text", "text": text})
	}

	callResult := map[string]interface{}{
		"content": content,
		"isError": !result.Success,
	}
	if structured, ok := result.Output.(map[string]interface{}); ok && result.Success {
		callResult["structuredContent"] = structured
	}
	return callResult, nil
}

// renderToolOutput flattens a tool result to text for the MCP content
// block. Structured values become JSON.
func renderToolOutput(output interface{}) string {
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

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
