// Package router provides the HTTP admission layer that turns a
// bearer token into a choice of backend surface, for deployments
// serving multiple tenants behind one listener.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gatelet/gatelet/pkgs/auth"
)

// A RuntimeManager hands out the HTTP surface of one agent's runtime,
// starting it if it is not live yet. Ensure must be idempotent.
type RuntimeManager interface {
	Ensure(ctx context.Context, agentID string) (http.Handler, error)
}

// RuntimeManagerFunc adapts a function into a RuntimeManager.
type RuntimeManagerFunc func(ctx context.Context, agentID string) (http.Handler, error)

// Ensure implements RuntimeManager.
func (f RuntimeManagerFunc) Ensure(ctx context.Context, agentID string) (http.Handler, error) {
	return f(ctx, agentID)
}

// A Router is an http.Handler performing bearer-token admission.
// Human tokens route to the shared management surface, agent tokens
// to that agent's own lazily started runtime. Resolved handles are
// cached per identity.
type Router struct {
	store      *TokenStore
	management http.Handler
	runtimes   RuntimeManager

	mu    sync.RWMutex
	cache map[string]http.Handler
	sf    singleflight.Group
}

// New returns a new Router.
func New(store *TokenStore, management http.Handler, runtimes RuntimeManager) *Router {
	return &Router{
		store:      store,
		management: management,
		runtimes:   runtimes,
		cache:      map[string]http.Handler{},
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {

	token, ok := auth.ParseBearer(req.Header.Get("Authorization"))
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "missing or malformed authorization", http.StatusUnauthorized)
		return
	}

	info, ok := r.store.Resolve(token)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		slog.Debug("Rejected unknown token", "token", hashToken(token))
		http.Error(w, "unknown token", http.StatusUnauthorized)
		return
	}

	target, err := r.resolve(req.Context(), info)
	if err != nil {
		slog.Error("Unable to resolve backend", "role", info.Role, "agent", info.AgentID, "err", err)
		http.Error(w, "unable to resolve backend", http.StatusBadGateway)
		return
	}

	target.ServeHTTP(w, req)
}

// resolve returns the handler for the given identity, caching it so
// repeated requests do not re-resolve. Concurrent first requests for
// the same agent share a single runtime start.
func (r *Router) resolve(ctx context.Context, info TokenInfo) (http.Handler, error) {

	if info.Role == RoleHuman {
		return r.management, nil
	}

	key := info.cacheKey()

	r.mu.RLock()
	target, ok := r.cache[key]
	r.mu.RUnlock()

	if ok {
		return target, nil
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {

		h, err := r.runtimes.Ensure(ctx, info.AgentID)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[key] = h
		r.mu.Unlock()

		return h, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(http.Handler), nil
}
