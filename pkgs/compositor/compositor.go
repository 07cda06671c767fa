package compositor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/gatelet/gatelet/pkgs/backend"
	"github.com/gatelet/gatelet/pkgs/mcp"
)

// ErrNotMounted is returned when dispatching to, or unmounting, a
// prefix that is not in the registry.
var ErrNotMounted = fmt.Errorf("no backend mounted")

// A ResourceUpdatedListener receives raw child resource-updated
// events with the originating mount name attached.
type ResourceUpdatedListener func(prefix mcp.MountPrefix, uri string)

// A ListChangedListener receives raw child list-changed events with
// the originating mount name attached.
type ListChangedListener func(prefix mcp.MountPrefix)

type mountEntry struct {
	spec    MountSpec
	backend backend.Backend
}

// A Compositor owns the mapping from mount prefix to backend and is
// the single point all tool and resource traffic passes through. It
// performs no policy checks: Dispatch is pure pass-through.
type Compositor struct {
	mu     sync.RWMutex
	mounts map[mcp.MountPrefix]*mountEntry

	listChanged map[mcp.MountPrefix]struct{}

	updatedListeners     []ResourceUpdatedListener
	listChangedListeners []ListChangedListener

	tlsClientConfig *tls.Config
}

type cfg struct {
	tlsClientConfig *tls.Config
}

// An Option can be passed to New.
type Option func(*cfg)

// OptTLSClientConfig sets the *tls.Config used when connecting to
// remote HTTP backends.
func OptTLSClientConfig(tlsConfig *tls.Config) Option {
	return func(c *cfg) {
		c.tlsClientConfig = tlsConfig
	}
}

// New returns a new, empty Compositor. Each Compositor owns its own
// registry: multiple instances coexist in the same process.
func New(opts ...Option) *Compositor {

	c := cfg{}
	for _, o := range opts {
		o(&c)
	}

	return &Compositor{
		mounts:          map[mcp.MountPrefix]*mountEntry{},
		listChanged:     map[mcp.MountPrefix]struct{}{},
		tlsClientConfig: c.tlsClientConfig,
	}
}

// Mount registers the given backend under the given prefix. It fails
// if the prefix is malformed or already mounted. The prefix is
// attributable as soon as Mount returns, even if the backend
// connection is still establishing.
func (c *Compositor) Mount(name string, spec MountSpec) error {

	prefix, err := mcp.NewMountPrefix(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.mounts[prefix]; ok {
		c.mu.Unlock()
		return fmt.Errorf("prefix '%s' is already mounted", prefix)
	}
	// Reserve the prefix before connecting so concurrent mounts of
	// the same name fail fast, and release it on connect failure.
	c.mounts[prefix] = nil
	c.mu.Unlock()

	handlers := backend.Handlers{
		OnResourceUpdated: func(uri string) { c.NotifyResourceUpdated(prefix, uri) },
		OnListChanged:     func() { c.RecordListChanged(prefix) },
	}

	bk, err := spec.connect(handlers, c.tlsClientConfig)
	if err != nil {
		c.mu.Lock()
		delete(c.mounts, prefix)
		c.mu.Unlock()
		return fmt.Errorf("unable to connect backend for '%s': %w", prefix, err)
	}

	c.mu.Lock()
	if _, ok := c.mounts[prefix]; !ok {
		// Unmounted while the connection was establishing.
		c.mu.Unlock()
		if closer, ok := bk.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("prefix '%s' was unmounted while connecting", prefix)
	}
	c.mounts[prefix] = &mountEntry{spec: spec, backend: bk}
	c.mu.Unlock()

	slog.Debug("Backend mounted", "prefix", prefix, "kind", spec.Kind)

	return nil
}

// Unmount removes the backend mounted under the given prefix and
// closes it if it is closable. After Unmount returns, no further
// traffic is attributed to the prefix.
func (c *Compositor) Unmount(name string) error {

	prefix, err := mcp.NewMountPrefix(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	entry, ok := c.mounts[prefix]
	if !ok || entry == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: '%s'", ErrNotMounted, prefix)
	}
	delete(c.mounts, prefix)
	delete(c.listChanged, prefix)
	c.mu.Unlock()

	if closer, ok := entry.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("Unable to close backend", "prefix", prefix, "err", err)
		}
	}

	slog.Debug("Backend unmounted", "prefix", prefix)

	return nil
}

// Dispatch splits the namespaced tool name on the first separator and
// forwards the call to the mounted backend, returning its result
// unchanged. It knows nothing about policy.
func (c *Compositor) Dispatch(ctx context.Context, name string, args map[string]any) (*mcp.CallResult, error) {

	prefix, tool, err := mcp.SplitFunction(name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	entry := c.mounts[prefix]
	c.mu.RUnlock()

	if entry == nil {
		return nil, fmt.Errorf("%w: '%s'", ErrNotMounted, prefix)
	}

	return entry.backend.CallTool(ctx, tool, args)
}

// ListTools aggregates the tool lists of all mounted backends,
// namespacing every tool name by its mount prefix.
func (c *Compositor) ListTools(ctx context.Context) (mcp.Tools, error) {

	c.mu.RLock()
	entries := make(map[mcp.MountPrefix]backend.Backend, len(c.mounts))
	for prefix, entry := range c.mounts {
		if entry != nil {
			entries[prefix] = entry.backend
		}
	}
	c.mu.RUnlock()

	prefixes := make([]mcp.MountPrefix, 0, len(entries))
	for prefix := range entries {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return prefixes[i] < prefixes[j] })

	out := mcp.Tools{}

	for _, prefix := range prefixes {

		tools, err := entries[prefix].ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to list tools of '%s': %w", prefix, err)
		}

		for _, t := range tools {
			t.Name = mcp.BuildFunction(prefix, t.Name)
			out = append(out, t)
		}
	}

	return out, nil
}

// MountSpecs returns a snapshot of the current mounts. The snapshot
// is stable under concurrent mount/unmount.
func (c *Compositor) MountSpecs() map[mcp.MountPrefix]MountSpec {

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[mcp.MountPrefix]MountSpec, len(c.mounts))
	for prefix, entry := range c.mounts {
		if entry != nil {
			out[prefix] = entry.spec
		}
	}

	return out
}

// MountPrefixes returns a snapshot of the currently mounted prefixes
// in no particular order.
func (c *Compositor) MountPrefixes() []mcp.MountPrefix {

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]mcp.MountPrefix, 0, len(c.mounts))
	for prefix := range c.mounts {
		out = append(out, prefix)
	}

	return out
}

// ResourcePrefixFormat returns the scheme used to fold mount names
// into resource URIs.
func (c *Compositor) ResourcePrefixFormat() string {
	return mcp.ResourcePrefixFormat
}

// OnResourceUpdated registers a listener for raw child
// resource-updated events. The Compositor performs no deduplication.
func (c *Compositor) OnResourceUpdated(l ResourceUpdatedListener) {
	c.mu.Lock()
	c.updatedListeners = append(c.updatedListeners, l)
	c.mu.Unlock()
}

// OnListChanged registers a listener for raw child list-changed
// events.
func (c *Compositor) OnListChanged(l ListChangedListener) {
	c.mu.Lock()
	c.listChangedListeners = append(c.listChangedListeners, l)
	c.mu.Unlock()
}

// NotifyResourceUpdated forwards a raw child resource-updated event
// to all listeners, with the originating mount name attached.
func (c *Compositor) NotifyResourceUpdated(prefix mcp.MountPrefix, uri string) {

	c.mu.RLock()
	listeners := make([]ResourceUpdatedListener, len(c.updatedListeners))
	copy(listeners, c.updatedListeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l(prefix, uri)
	}
}

// RecordListChanged records that the given mount emitted a raw
// list-changed signal and forwards the event to all listeners. The
// Compositor is the source of truth for list-changed attribution.
func (c *Compositor) RecordListChanged(prefix mcp.MountPrefix) {

	c.mu.Lock()
	c.listChanged[prefix] = struct{}{}
	listeners := make([]ListChangedListener, len(c.listChangedListeners))
	copy(listeners, c.listChangedListeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l(prefix)
	}
}

// PopRecentListChanges returns, sorted, the mount names that emitted
// a raw list-changed signal since the last call, and clears them.
func (c *Compositor) PopRecentListChanges() []mcp.MountPrefix {

	c.mu.Lock()
	out := make([]mcp.MountPrefix, 0, len(c.listChanged))
	for prefix := range c.listChanged {
		out = append(out, prefix)
	}
	c.listChanged = map[mcp.MountPrefix]struct{}{}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Close unmounts everything.
func (c *Compositor) Close() error {

	c.mu.Lock()
	mounts := c.mounts
	c.mounts = map[mcp.MountPrefix]*mountEntry{}
	c.listChanged = map[mcp.MountPrefix]struct{}{}
	c.mu.Unlock()

	for prefix, entry := range mounts {
		if entry == nil {
			continue
		}
		if closer, ok := entry.backend.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("Unable to close backend", "prefix", prefix, "err", err)
			}
		}
	}

	return nil
}
