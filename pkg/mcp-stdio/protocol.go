package mcpstdio

import (
	"encoding/json"
	"fmt"
)

const jsonRPCVersion = "2.0"

// protocolVersion is the MCP revision this client negotiates during the
// initialize handshake.
const protocolVersion = "2024-11-05"

// Method names defined by the MCP specification.
const (
	methodInitialize        = "initialize"
	methodListTools         = "tools/list"
	methodCallTool          = "tools/call"
	notificationInitialized = "notifications/initialized"
)

// request is an outbound JSON-RPC request frame. IDs are always numeric and
// assigned from the client's monotonic counter.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// notification is an outbound frame with no id and no expected response.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is the union of every inbound frame. A frame with an id is a
// response to one of our requests; a frame with a method and no id is a
// server-initiated notification.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object a server attaches to a failed
// response. It satisfies the error interface so callers can errors.As it out
// of a failed request.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Implementation identifies a protocol participant during the handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// clientCapabilities advertises the capability namespaces this client
// understands. Empty objects are the MCP way of flagging support.
type clientCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
	Prompts   struct{} `json:"prompts"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult carries the server's half of the handshake: the protocol
// revision it settled on, its capability set, and its identity.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      Implementation  `json:"serverInfo"`
}

// Tool is one capability advertised by the server via tools/list. InputSchema
// is kept raw: third-party tool schemas are arbitrary JSON Schema documents
// and are not statically typed here.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
