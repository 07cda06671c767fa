package approvals

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// A ToolCall is the call a pending approval is about.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ResolutionKind is the tag of a Resolution.
type ResolutionKind int

// The possible resolutions of a pending approval.
const (
	ResolutionContinue ResolutionKind = iota
	ResolutionDenyContinue
	ResolutionAbort
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolutionContinue:
		return "continue"
	case ResolutionDenyContinue:
		return "deny_continue"
	case ResolutionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// A Resolution is the terminal disposition of one ask. It is
// irrevocable once delivered.
type Resolution struct {
	Kind   ResolutionKind
	Reason string
}

// A PendingCall is the read-only view of one in-flight ask.
type PendingCall struct {
	Call       ToolCall
	InsertedAt time.Time
}

// Observer is notified right after a new pending approval becomes
// visible, and strictly before the asking caller starts waiting.
type Observer func(callID string, call ToolCall)

// ErrNotPending is returned when resolving a call id that is not
// pending. A second resolution of the same call id fails with it:
// silent double-resolution would corrupt the audit trail.
var ErrNotPending = fmt.Errorf("call is not pending")

// ErrAskAborted is returned by Ask when the asking context is
// canceled before a resolution arrives.
var ErrAskAborted = fmt.Errorf("ask aborted")

// A Hub is the suspend/resume primitive connecting the policy
// gateway's ask branch to an external decision maker.
type Hub struct {
	mu        sync.Mutex
	pending   map[string]*pendingEntry
	observers []Observer
}

type pendingEntry struct {
	call ToolCall
	at   time.Time
	ch   chan Resolution
}

// NewHub returns a new Hub.
func NewHub() *Hub {
	return &Hub{
		pending: map[string]*pendingEntry{},
	}
}

// OnPending registers an observer for new pending approvals.
func (h *Hub) OnPending(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Pending returns a snapshot of all in-flight asks keyed by call id.
func (h *Hub) Pending() map[string]PendingCall {

	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]PendingCall, len(h.pending))
	for id, p := range h.pending {
		out[id] = PendingCall{Call: p.call, InsertedAt: p.at}
	}

	return out
}

// Ask registers the given call as pending and suspends until Resolve
// is called for its call id, or until ctx is canceled. The insertion
// is fully visible and every observer has run before Ask starts
// waiting, so a resolver racing on the notification can never hit an
// unregistered call id.
func (h *Hub) Ask(ctx context.Context, callID string, call ToolCall) (Resolution, error) {

	h.mu.Lock()

	if _, ok := h.pending[callID]; ok {
		h.mu.Unlock()
		return Resolution{}, fmt.Errorf("call '%s' is already pending", callID)
	}

	entry := &pendingEntry{
		call: call,
		at:   time.Now(),
		ch:   make(chan Resolution, 1),
	}
	h.pending[callID] = entry
	observers := make([]Observer, len(h.observers))
	copy(observers, h.observers)

	h.mu.Unlock()

	// Phase two: notify after the insert is committed, before waiting.
	for _, o := range observers {
		o(callID, call)
	}

	select {

	case res := <-entry.ch:
		return res, nil

	case <-ctx.Done():

		h.mu.Lock()
		_, stillPending := h.pending[callID]
		delete(h.pending, callID)
		h.mu.Unlock()

		if !stillPending {
			// A resolution won the race. It is already committed, so
			// honor it.
			select {
			case res := <-entry.ch:
				return res, nil
			default:
			}
		}

		return Resolution{}, fmt.Errorf("%w: %w", ErrAskAborted, ctx.Err())
	}
}

// Resolve delivers the resolution for the given pending call id and
// wakes exactly one waiter. It fails with ErrNotPending if the call
// id is unknown or already resolved.
func (h *Hub) Resolve(callID string, res Resolution) error {

	h.mu.Lock()
	entry, ok := h.pending[callID]
	delete(h.pending, callID)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: '%s'", ErrNotPending, callID)
	}

	entry.ch <- res

	return nil
}
