package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jrepp/embedded-redis/pkg/manifest"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
)

const defaultDebounce = 500 * time.Millisecond

// isManifestChange reports whether event rewrote target. Editors that save
// through a temp file show up as Create on the final name.
func isManifestChange(event fsnotify.Event, target string) bool {
	if filepath.Clean(event.Name) != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// watchLoop calls reload once per burst of changes to target. reload runs on
// the loop goroutine so generations never overlap.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string, debounce time.Duration, reload func()) error {
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !isManifestChange(event, target) {
				continue
			}
			slog.Debug("manifest changed", "file", filepath.Base(event.Name), "op", event.Op)
			pending = time.After(debounce)

		case <-pending:
			pending = nil
			reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// generation is one running build of the manifest with its own cleanup.
type generation struct {
	name     string
	registry *shutdown.Registry
}

func (g *generation) stop() {
	if g == nil {
		return
	}
	if err := g.registry.Run(); err != nil {
		slog.Warn("topology did not stop cleanly", "topology", g.name, "error", err)
	}
}

// startGeneration builds and starts m against a fresh registry. On failure
// whatever was registered is cleaned up.
func (a *app) startGeneration(ctx context.Context, m *manifest.Manifest) (*generation, error) {
	reg := shutdown.NewRegistry()
	r, err := a.buildManifest(ctx, m, reg)
	if err != nil {
		a.ui.Error(err.Error())
		return nil, err
	}
	if err := a.launch(ctx, m.Name, string(m.Mode), r); err != nil {
		_ = reg.Run()
		return nil, err
	}
	return &generation{name: m.Name, registry: reg}, nil
}

// watch runs m and rebuilds it whenever path changes. An invalid manifest
// leaves the running topology alone.
func (a *app) watch(ctx context.Context, path string, m *manifest.Manifest, debounce time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve manifest path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	metricsServer := a.startMetrics()

	current, err := a.startGeneration(ctx, m)
	if err != nil {
		_ = a.shutdown(metricsServer)
		return err
	}
	a.ui.Subtle(fmt.Sprintf("Watching %s, press Ctrl+C to stop", path))

	reload := func() {
		next, err := manifest.Load(target)
		if err != nil {
			a.ui.Warning(fmt.Sprintf("manifest not reloaded: %v", err))
			return
		}
		applyDefaults(next)

		a.logger.Info("reloading topology", "topology", next.Name)
		current.stop()
		current, err = a.startGeneration(ctx, next)
		if err != nil {
			a.ui.Warning("nothing running until the manifest is fixed")
		}
	}

	loopErr := watchLoop(ctx, watcher, target, debounce, reload)
	current.stop()
	if err := a.shutdown(metricsServer); err != nil {
		return err
	}
	return loopErr
}
