package server

import "encoding/json"

// JSON-RPC 2.0 error codes used by the MCP endpoint.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// mcpProtocolVersion is the Model Context Protocol revision this server
// speaks. It matches what the executor's client adapter negotiates.
const mcpProtocolVersion = "2024-11-05"

// mcpServerName identifies this server in the initialize handshake.
const mcpServerName = "contoso-pizza-mcp"

// rpcRequest is an incoming JSON-RPC 2.0 message. A missing ID marks a
// notification.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// rpcResponse is an outgoing JSON-RPC 2.0 message.
type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// EventMessage is one frame on the order feed.
type EventMessage struct {
	Type      string      `json:"type,omitempty"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// rateLimitState tracks request timestamps for one client IP.
type rateLimitState struct {
	requests []int64
}
