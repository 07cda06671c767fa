package mcp

import "fmt"

// An Error represents an inline JSON-RPC error.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// An RPCError carries an Error through Go error returns, so callers
// can get the structured data back with errors.As.
type RPCError struct {
	Err Error
}

// NewRPCError returns a new *RPCError wrapping the given Error.
func NewRPCError(e Error) *RPCError {
	return &RPCError{Err: e}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Err.Code, e.Err.Message)
}

// ErrorData returns the wrapped structured error.
func (e *RPCError) ErrorData() Error {
	return e.Err
}
