// Package notifications turns the raw per-backend resource event
// stream into deduplicated, server-attributed batches a poller can
// consume without busy-waiting.
package notifications

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/gatelet/gatelet/pkgs/compositor"
	"github.com/gatelet/gatelet/pkgs/mcp"
)

// UnknownOrigin is the attribution used when a raw event cannot be
// traced back to any mounted backend.
const UnknownOrigin = "unknown"

// Events holds the accumulated resource events for one origin server.
type Events struct {
	Updated     []string `json:"updated"`
	ListChanged bool     `json:"list_changed"`
}

// A Batch maps origin server names to their accumulated events. It is
// a frozen snapshot: mutating it has no effect on the buffer.
type Batch map[string]Events

// A Hook runs after every accumulation event, on a best-effort basis.
type Hook func()

// A Buffer accumulates resource events per origin server. All methods
// are safe for concurrent use.
type Buffer struct {
	mu          sync.Mutex
	updated     map[string]map[string]struct{}
	listChanged map[string]struct{}
	hooks       []Hook

	prefixes             func() []mcp.MountPrefix
	popRecentListChanges func() []mcp.MountPrefix
}

// A Source is the subset of the Compositor the buffer subscribes to.
type Source interface {
	OnResourceUpdated(compositor.ResourceUpdatedListener)
	OnListChanged(compositor.ListChangedListener)
	PopRecentListChanges() []mcp.MountPrefix
	MountPrefixes() []mcp.MountPrefix
}

// New returns a Buffer wired to the given source. The buffer
// registers itself as a listener for direct events and keeps the
// source around for raw-channel attribution.
func New(source Source) *Buffer {

	b := &Buffer{
		updated:              map[string]map[string]struct{}{},
		listChanged:          map[string]struct{}{},
		prefixes:             source.MountPrefixes,
		popRecentListChanges: source.PopRecentListChanges,
	}

	source.OnResourceUpdated(func(prefix mcp.MountPrefix, uri string) {
		b.record(string(prefix), mcp.TrimResourcePrefix(prefix, uri), false)
	})

	source.OnListChanged(func(prefix mcp.MountPrefix) {
		b.record(string(prefix), "", true)
	})

	return b
}

// AddHook registers a hook to run after every accumulation event. A
// hook that panics is logged and never affects the caller that
// triggered the notification.
func (b *Buffer) AddHook(h Hook) {
	b.mu.Lock()
	b.hooks = append(b.hooks, h)
	b.mu.Unlock()
}

// HandleRawResourceUpdated handles a resource-updated event delivered
// over a generic message channel, where only the URI is known. The
// origin is derived by matching the URI against the mounted prefixes
// in lexicographic order, falling back to UnknownOrigin. It never
// fails.
func (b *Buffer) HandleRawResourceUpdated(uri string) {

	prefixes := b.prefixes()
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	for _, prefix := range prefixes {
		if mcp.HasResourcePrefix(prefix, uri) {
			b.record(string(prefix), mcp.TrimResourcePrefix(prefix, uri), false)
			return
		}
	}

	b.record(UnknownOrigin, uri, false)
}

// HandleRawListChanged handles a list-changed event delivered over a
// generic message channel. Attribution comes from whatever mount
// names the Compositor most recently recorded as having emitted a raw
// list-changed signal. When that set is empty, the event is
// attributed to UnknownOrigin rather than dropped.
func (b *Buffer) HandleRawListChanged() {

	prefixes := b.popRecentListChanges()

	if len(prefixes) == 0 {
		b.record(UnknownOrigin, "", true)
		return
	}

	for _, prefix := range prefixes {
		b.record(string(prefix), "", true)
	}
}

// Poll returns a snapshot of the accumulated events and clears all
// internal state.
func (b *Buffer) Poll() Batch {

	b.mu.Lock()
	batch := b.snapshot()
	b.updated = map[string]map[string]struct{}{}
	b.listChanged = map[string]struct{}{}
	b.mu.Unlock()

	return batch
}

// Peek returns a snapshot of the accumulated events without clearing
// anything.
func (b *Buffer) Peek() Batch {

	b.mu.Lock()
	batch := b.snapshot()
	b.mu.Unlock()

	return batch
}

func (b *Buffer) record(origin string, uri string, listChanged bool) {

	b.mu.Lock()

	if listChanged {
		b.listChanged[origin] = struct{}{}
	} else {
		set, ok := b.updated[origin]
		if !ok {
			set = map[string]struct{}{}
			b.updated[origin] = set
		}
		set[uri] = struct{}{}
	}

	hooks := make([]Hook, len(b.hooks))
	copy(hooks, b.hooks)

	b.mu.Unlock()

	for _, h := range hooks {
		runHook(h)
	}
}

func runHook(h Hook) {

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Notification hook failed", "err", r)
		}
	}()

	h()
}

// snapshot must be called with b.mu held.
func (b *Buffer) snapshot() Batch {

	batch := Batch{}

	for origin, set := range b.updated {
		uris := make([]string, 0, len(set))
		for uri := range set {
			uris = append(uris, uri)
		}
		sort.Strings(uris)
		ev := batch[origin]
		ev.Updated = uris
		batch[origin] = ev
	}

	for origin := range b.listChanged {
		ev := batch[origin]
		ev.ListChanged = true
		if ev.Updated == nil {
			ev.Updated = []string{}
		}
		batch[origin] = ev
	}

	for origin, ev := range batch {
		if ev.Updated == nil {
			ev.Updated = []string{}
			batch[origin] = ev
		}
	}

	return batch
}
