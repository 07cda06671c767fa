package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gatelet/gatelet/pkgs/mcp"
	"github.com/gatelet/gatelet/pkgs/notifications"
	"github.com/gatelet/gatelet/pkgs/policy"
)

// A ToolLister aggregates the namespaced tool list. The Compositor
// implements it.
type ToolLister interface {
	ListTools(ctx context.Context) (mcp.Tools, error)
}

// An Agent is the per-agent HTTP surface: policy-gated tool calls
// over JSON-RPC plus a notifications endpoint backed by the buffer.
type Agent struct {
	gateway *policy.Gateway
	tools   ToolLister
	buffer  *notifications.Buffer
	mux     *http.ServeMux
}

// NewAgent returns a new Agent surface.
func NewAgent(gateway *policy.Gateway, tools ToolLister, buffer *notifications.Buffer) *Agent {

	a := &Agent{
		gateway: gateway,
		tools:   tools,
		buffer:  buffer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rpc", a.handleRPC)
	mux.HandleFunc("GET /notifications", a.handleNotifications)
	a.mux = mux

	return a
}

func (a *Agent) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	a.mux.ServeHTTP(w, req)
}

func (a *Agent) handleRPC(w http.ResponseWriter, req *http.Request) {

	msg := mcp.Message{}
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		http.Error(w, fmt.Sprintf("unable to decode request: %s", err), http.StatusBadRequest)
		return
	}

	reply := mcp.Message{JSONRPC: "2.0", ID: msg.ID}

	switch msg.Method {

	case "tools/call":

		name, _ := msg.Params["name"].(string)
		args, _ := msg.Params["arguments"].(map[string]any)

		res, err := a.gateway.CallTool(req.Context(), name, args)
		if err != nil {
			reply.Error = rpcErrorOf(err)
			break
		}

		reply.Result, err = json.Marshal(res)
		if err != nil {
			reply.Error = &mcp.Error{Code: -32603, Message: fmt.Sprintf("unable to encode result: %s", err)}
		}

	case "tools/list":

		tools, err := a.tools.ListTools(req.Context())
		if err != nil {
			reply.Error = rpcErrorOf(err)
			break
		}

		reply.Result, err = json.Marshal(map[string]any{"tools": tools})
		if err != nil {
			reply.Error = &mcp.Error{Code: -32603, Message: fmt.Sprintf("unable to encode result: %s", err)}
		}

	default:
		reply.Error = &mcp.Error{Code: -32601, Message: fmt.Sprintf("method '%s' not found", msg.Method)}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.Error("Unable to encode rpc reply", "err", err)
	}
}

// handleNotifications drains the buffer, or peeks when ?peek=true.
func (a *Agent) handleNotifications(w http.ResponseWriter, req *http.Request) {

	var batch notifications.Batch
	if req.URL.Query().Get("peek") == "true" {
		batch = a.buffer.Peek()
	} else {
		batch = a.buffer.Poll()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(batch); err != nil {
		slog.Error("Unable to encode notifications batch", "err", err)
	}
}

// rpcErrorOf renders a gateway or backend error on the wire. Typed
// errors keep their structured data, anything else becomes a generic
// internal error.
func rpcErrorOf(err error) *mcp.Error {

	var rpcErr *mcp.RPCError
	if errors.As(err, &rpcErr) {
		e := rpcErr.ErrorData()
		return &e
	}

	return &mcp.Error{Code: -32603, Message: err.Error()}
}
