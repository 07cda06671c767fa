package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gatelet/gatelet/pkgs/policy/api"
)

type watchEvaluator struct {
	mu      sync.RWMutex
	current Evaluator
}

// NewRegoWatch returns an Evaluator backed by the rego policy at the
// given path, recompiling it whenever the file changes. A reload that
// fails to compile is logged and the previous policy stays active.
// The watcher stops when ctx is done.
func NewRegoWatch(ctx context.Context, path string) (Evaluator, error) {

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("unable to read policy file: %w", err)
	}

	current, err := NewRego(string(data))
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create policy watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("unable to watch policy file: %w", err)
	}

	p := &watchEvaluator{current: current}

	go func() {

		defer func() { _ = watcher.Close() }()

		for {
			select {

			case <-ctx.Done():
				return

			case ev, ok := <-watcher.Events:

				if !ok {
					return
				}

				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}

				data, err := os.ReadFile(path) // #nosec G304
				if err != nil {
					slog.Error("Unable to reread policy file", "path", path, "err", err)
					continue
				}

				next, err := NewRego(string(data))
				if err != nil {
					slog.Error("Unable to recompile policy. keeping previous", "path", path, "err", err)
					continue
				}

				p.mu.Lock()
				p.current = next
				p.mu.Unlock()

				slog.Info("Policy reloaded", "path", path)

			case err, ok := <-watcher.Errors:

				if !ok {
					return
				}

				slog.Error("Policy watcher error", "err", err)
			}
		}
	}()

	return p, nil
}

func (p *watchEvaluator) Evaluate(ctx context.Context, preq api.Request) (api.Response, error) {

	p.mu.RLock()
	current := p.current
	p.mu.RUnlock()

	return current.Evaluate(ctx, preq)
}
