package toolexecutor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// mcpProtocolVersion is the Model Context Protocol revision spoken by
// both transports.
const mcpProtocolVersion = "2024-11-05"

// mcpCallTimeout bounds a single JSON-RPC round trip when the caller's
// context carries no deadline of its own.
const mcpCallTimeout = 30 * time.Second

// MCP JSON-RPC messages
type mcpRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type mcpError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// mcpTransport moves JSON-RPC messages to an MCP server and back.
type mcpTransport interface {
	roundTrip(ctx context.Context, method string, params interface{}) (*mcpResponse, error)
	notify(ctx context.Context, method string, params interface{}) error
	close() error
}

// MCPServerAdapter connects the executor to a Model Context Protocol
// server over stdio or streamable HTTP.
type MCPServerAdapter struct {
	label     string
	transport mcpTransport

	mu          sync.Mutex
	initialized bool
}

// NewStdioMCPServer creates an adapter that spawns the server as a
// child process and speaks line-delimited JSON-RPC over its pipes.
func NewStdioMCPServer(label, command string, args []string) *MCPServerAdapter {
	return &MCPServerAdapter{
		label: label,
		transport: &stdioTransport{
			command: command,
			args:    args,
			pending: make(map[int]chan *mcpResponse),
		},
	}
}

// NewHTTPMCPServer creates an adapter for a streamable HTTP server:
// one endpoint, one POST per message, session tracked through the
// Mcp-Session-Id header.
func NewHTTPMCPServer(label, endpoint string, headers map[string]string) *MCPServerAdapter {
	return &MCPServerAdapter{
		label: label,
		transport: &httpTransport{
			endpoint: endpoint,
			headers:  headers,
			client:   &http.Client{Timeout: mcpCallTimeout},
		},
	}
}

// Label returns the server label used to namespace mirrored tools.
func (a *MCPServerAdapter) Label() string {
	return a.label
}

// Start performs the initialize handshake. Safe to call more than
// once; later calls are no-ops.
func (a *MCPServerAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	params := map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "sofia",
			"version": "0.1.0",
		},
	}

	resp, err := a.transport.roundTrip(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("mcp initialize failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("mcp initialize got no response")
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp initialize failed (%d): %s", resp.Error.Code, resp.Error.Message)
	}

	if err := a.transport.notify(ctx, "notifications/initialized", nil); err != nil {
		log.Warn().Err(err).Str("server", a.label).Msg("MCP initialized notification failed")
	}

	a.initialized = true

	log.Info().Str("server", a.label).Msg("MCP server initialized")

	return nil
}

func (a *MCPServerAdapter) call(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}

	resp, err := a.transport.roundTrip(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("mcp server returned no response for %s", method)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
	}
	return resp, nil
}

// GetTools fetches the tool definitions from the MCP server
func (a *MCPServerAdapter) GetTools(ctx context.Context) ([]ToolDefinition, error) {
	resp, err := a.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}

	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	defs := make([]ToolDefinition, 0, len(listResult.Tools))
	for _, t := range listResult.Tools {
		def := ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Category:    CategoryExternal,
		}
		if len(t.InputSchema) > 0 {
			var schema map[string]interface{}
			if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
				def.InputSchema = schema
			}
		}
		if params := parseMCPToolParameters(t.InputSchema); len(params) > 0 {
			def.Parameters = params
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// ExecuteTool executes a tool from the MCP server
func (a *MCPServerAdapter) ExecuteTool(ctx context.Context, name string, params map[string]interface{}) (interface{}, error) {
	callParams := map[string]interface{}{
		"name":      name,
		"arguments": params,
	}
	if params == nil {
		callParams["arguments"] = map[string]interface{}{}
	}

	resp, err := a.call(ctx, "tools/call", callParams)
	if err != nil {
		return nil, err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StructuredContent map[string]interface{} `json:"structuredContent"`
		IsError           bool                   `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(result.Content))
	for _, part := range result.Content {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}

	if result.IsError {
		return nil, fmt.Errorf("mcp tool %s failed: %s", name, strings.Join(texts, "\n"))
	}

	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if len(texts) == 1 {
		return texts[0], nil
	}
	return strings.Join(texts, "\n"), nil
}

// ListResources fetches resource listings from the MCP server.
func (a *MCPServerAdapter) ListResources(ctx context.Context) ([]map[string]interface{}, error) {
	resp, err := a.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Resources []map[string]interface{} `json:"resources"`
	}
	if err := json.Unmarshal(resp.Result, &listResult); err != nil {
		return nil, err
	}

	return listResult.Resources, nil
}

// ReadResource reads a specific resource from the MCP server.
func (a *MCPServerAdapter) ReadResource(ctx context.Context, uri string) (map[string]interface{}, error) {
	resp, err := a.call(ctx, "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// Close shuts the transport down.
func (a *MCPServerAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.initialized = false
	return a.transport.close()
}

// stdioTransport talks to a child process over stdin/stdout with one
// JSON-RPC message per line.
type stdioTransport struct {
	command string
	args    []string

	mu      sync.Mutex
	process *exec.Cmd
	stdin   io.WriteCloser
	id      int
	pending map[int]chan *mcpResponse
}

func (t *stdioTransport) start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.process != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, t.command, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	t.process = cmd
	t.stdin = stdin

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	go t.listen(scanner)

	return nil
}

func (t *stdioTransport) listen(scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var resp mcpResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Error().Err(err).Msg("Failed to unmarshal MCP response")
			continue
		}

		if id, ok := resp.ID.(float64); ok {
			t.mu.Lock()
			ch, exists := t.pending[int(id)]
			if exists {
				delete(t.pending, int(id))
				ch <- &resp
			}
			t.mu.Unlock()
		}
	}
}

func (t *stdioTransport) roundTrip(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	if err := t.start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP server: %w", err)
	}

	t.mu.Lock()
	t.id++
	id := t.id
	ch := make(chan *mcpResponse, 1)
	t.pending[id] = ch
	stdin := t.stdin
	t.mu.Unlock()

	data, err := json.Marshal(mcpRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mcpCallTimeout):
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("MCP request timeout")
	}
}

func (t *stdioTransport) notify(ctx context.Context, method string, params interface{}) error {
	if err := t.start(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(mcpRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()

	_, err = stdin.Write(append(data, '\n'))
	return err
}

func (t *stdioTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.process != nil && t.process.Process != nil {
		err := t.process.Process.Kill()
		t.process = nil
		return err
	}
	return nil
}

// httpTransport posts each JSON-RPC message to a single endpoint. The
// session identifier handed out during initialize rides along on every
// later request in the Mcp-Session-Id header.
type httpTransport struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	mu        sync.Mutex
	sessionID string
	id        int
}

func (t *httpTransport) roundTrip(ctx context.Context, method string, params interface{}) (*mcpResponse, error) {
	t.mu.Lock()
	t.id++
	id := t.id
	t.mu.Unlock()

	body, err := t.post(ctx, mcpRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return nil, err
	}

	return body, nil
}

func (t *httpTransport) notify(ctx context.Context, method string, params interface{}) error {
	_, err := t.post(ctx, mcpRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	return err
}

func (t *httpTransport) post(ctx context.Context, rpc mcpRequest) (*mcpResponse, error) {
	payload, err := json.Marshal(rpc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if session := resp.Header.Get("Mcp-Session-Id"); session != "" {
		t.mu.Lock()
		t.sessionID = session
		t.mu.Unlock()
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("mcp server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// Notifications get no body back.
	if rpc.ID == nil || resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return parseSSEResponse(resp.Body)
	}

	var rpcResp mcpResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode mcp response: %w", err)
	}
	return &rpcResp, nil
}

func (t *httpTransport) close() error {
	t.mu.Lock()
	sessionID := t.sessionID
	t.sessionID = ""
	t.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	// Streamable HTTP servers accept DELETE to end the session.
	req, err := http.NewRequest(http.MethodDelete, t.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Mcp-Session-Id", sessionID)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// parseSSEResponse pulls the first JSON-RPC message out of an
// event-stream body.
func parseSSEResponse(body io.Reader) (*mcpResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var rpcResp mcpResponse
		if err := json.Unmarshal([]byte(data), &rpcResp); err != nil {
			continue
		}
		return &rpcResp, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("no mcp response in event stream")
}

func parseMCPToolParameters(schema json.RawMessage) []ToolParameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	params := make([]ToolParameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}
		param := ToolParameter{
			Name:     name,
			Required: required[name],
		}
		if typeVal, ok := prop["type"].(string); ok {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		params = append(params, param)
	}

	return params
}
