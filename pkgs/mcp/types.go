package mcp

import "encoding/json"

type Tools []Tool
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// A Message is a single JSON-RPC 2.0 message, request or response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest returns a request Message for the given method.
func NewRequest(id any, method string, params map[string]any) Message {
	return Message{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// A CallResult is the outcome of one tool call as returned by a backend.
// IsError flags a call that failed on the backend side; in that case
// Error carries the structured error when the backend provided one.
type CallResult struct {
	Content           json.RawMessage `json:"content,omitempty"`
	StructuredContent map[string]any  `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
	Error             *Error          `json:"error,omitempty"`
}
