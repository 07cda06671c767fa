package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gatelet/gatelet/pkgs/approvals"
)

// An ApprovalView is one row of the management listing, covering both
// pending and decided calls.
type ApprovalView struct {
	CallID    string             `json:"call_id"`
	Call      approvals.ToolCall `json:"tool_call"`
	Status    string             `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type resolveRequest struct {
	CallID   string `json:"call_id"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

type pendingEvent struct {
	Type   string             `json:"type"`
	CallID string             `json:"call_id"`
	Call   approvals.ToolCall `json:"tool_call"`
}

// An Admin is the shared management surface human tokens route to. It
// lists approvals, resolves pending calls, and pushes new-pending
// events over a websocket feed.
type Admin struct {
	hub  *approvals.Hub
	sink approvals.Sink
	mux  *http.ServeMux

	mu    sync.Mutex
	feeds map[*websocket.Conn]struct{}
}

// NewAdmin returns a new Admin over the given hub and sink. It
// registers itself as a pending observer on the hub.
func NewAdmin(hub *approvals.Hub, sink approvals.Sink) *Admin {

	a := &Admin{
		hub:   hub,
		sink:  sink,
		feeds: map[*websocket.Conn]struct{}{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /approvals", a.handleList)
	mux.HandleFunc("POST /approvals/resolve", a.handleResolve)
	mux.HandleFunc("GET /ws", a.handleFeed)
	a.mux = mux

	hub.OnPending(a.broadcastPending)

	return a
}

func (a *Admin) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	a.mux.ServeHTTP(w, req)
}

// handleList returns pending and decided approvals merged, most
// recent first. Decided records are read-only.
func (a *Admin) handleList(w http.ResponseWriter, req *http.Request) {

	decided, err := a.sink.List(req.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("unable to list outcomes: %s", err), http.StatusInternalServerError)
		return
	}

	views := make([]ApprovalView, 0, len(decided))

	for id, p := range a.hub.Pending() {
		views = append(views, ApprovalView{
			CallID:    id,
			Call:      p.Call,
			Status:    "pending",
			Timestamp: p.InsertedAt,
		})
	}

	for _, r := range decided {
		views = append(views, ApprovalView{
			CallID:    r.CallID,
			Call:      r.Call,
			Status:    string(r.Outcome),
			Reason:    r.Reason,
			Timestamp: r.Timestamp,
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Timestamp.After(views[j].Timestamp)
	})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		slog.Error("Unable to encode approval listing", "err", err)
	}
}

func (a *Admin) handleResolve(w http.ResponseWriter, req *http.Request) {

	rreq := resolveRequest{}
	if err := json.NewDecoder(req.Body).Decode(&rreq); err != nil {
		http.Error(w, fmt.Sprintf("unable to decode request: %s", err), http.StatusBadRequest)
		return
	}

	var kind approvals.ResolutionKind
	switch rreq.Decision {
	case "continue":
		kind = approvals.ResolutionContinue
	case "deny_continue":
		kind = approvals.ResolutionDenyContinue
	case "abort":
		kind = approvals.ResolutionAbort
	default:
		http.Error(w, fmt.Sprintf("invalid decision '%s'", rreq.Decision), http.StatusBadRequest)
		return
	}

	if err := a.hub.Resolve(rreq.CallID, approvals.Resolution{Kind: kind, Reason: rreq.Reason}); err != nil {

		if errors.Is(err, approvals.ErrNotPending) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		http.Error(w, fmt.Sprintf("unable to resolve: %s", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) handleFeed(w http.ResponseWriter, req *http.Request) {

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("Unable to upgrade to websocket", "err", err)
		return
	}

	a.mu.Lock()
	a.feeds[ws] = struct{}{}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.feeds, ws)
		a.mu.Unlock()
		_ = ws.Close()
	}()

	// The feed is push-only. Reading drives close detection and
	// discards anything the client sends.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *Admin) broadcastPending(callID string, call approvals.ToolCall) {

	ev := pendingEvent{Type: "pending_approval", CallID: callID, Call: call}

	a.mu.Lock()
	defer a.mu.Unlock()

	for ws := range a.feeds {
		if err := ws.WriteJSON(ev); err != nil {
			slog.Debug("Unable to push pending event. dropping feed", "err", err)
			delete(a.feeds, ws)
			_ = ws.Close()
		}
	}
}
