// Package shutdown keeps the process-wide list of teardown hooks that stop
// embedded redis instances and remove extracted executables when the host
// program exits.
//
// Go has no JVM-style shutdown hooks, so teardown is explicit: call
// Default().Run() from main (or TestMain) and optionally install
// NotifyOnSignal so SIGINT/SIGTERM also run the hooks.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
)

type hook struct {
	name string
	fn   func() error
}

// Registry is an append-only list of teardown hooks.
type Registry struct {
	mu     sync.Mutex
	hooks  []hook
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{logger: slog.Default().With("component", "shutdown")}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Add appends a hook. Hooks never remove one another.
func (r *Registry) Add(name string, fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook{name: name, fn: fn})
}

// Len reports the number of registered hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run executes every hook in reverse registration order and clears the list.
// A failing or panicking hook does not prevent the others from running.
func (r *Registry) Run() error {
	r.mu.Lock()
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := runHook(h); err != nil {
			r.logger.Warn("shutdown hook failed", "hook", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

// Reset drops every hook without running it.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = nil
}

// NotifyOnSignal runs the hooks once when one of sigs arrives (os.Interrupt
// when none are given). The returned function stops listening.
func (r *Registry) NotifyOnSignal(ctx context.Context, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		select {
		case sig := <-ch:
			r.logger.Info("received signal, running shutdown hooks", "signal", sig.String())
			_ = r.Run()
		case <-ctx.Done():
		case <-done:
		}
	}()

	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

func runHook(h hook) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.fn()
}
