package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrepp/embedded-redis/cmd/redis-embedded/internal/config"
	"github.com/jrepp/embedded-redis/cmd/redis-embedded/internal/telemetry"
	"github.com/jrepp/embedded-redis/cmd/redis-embedded/internal/ui"
	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/platform"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

// app is the state shared by every command after config is loaded.
type app struct {
	cfg      *config.Config
	ui       *ui.UI
	logger   *slog.Logger
	registry *shutdown.Registry
	metrics  *supervisor.PrometheusMetricsCollector
}

func newApp(cfg *config.Config, u *ui.UI) *app {
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)

	a := &app{
		cfg:      cfg,
		ui:       u,
		logger:   logger,
		registry: shutdown.Default(),
	}
	if cfg.Trace.Enabled {
		a.setupTracing()
	}
	if cfg.Metrics.Addr != "" {
		a.metrics = supervisor.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
	}
	return a
}

// setupTracing installs the stderr exporter. Its flush is registered before
// anything else so it runs after every instance has stopped.
func (a *app) setupTracing() {
	flush, err := telemetry.Setup(context.Background(), executable.RedisVersion, os.Stderr)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
		return
	}
	a.registry.Add("flush traces", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return flush(ctx)
	})
}

func (a *app) resolverOptions() []executable.Option {
	opts := []executable.Option{
		executable.WithRegistry(a.registry),
		executable.WithLogger(a.logger),
	}
	if a.cfg.Executables.BundleDir != "" {
		opts = append(opts, executable.WithBundleDir(a.cfg.Executables.BundleDir))
	}
	return opts
}

func (a *app) instanceOptions() []supervisor.Option {
	opts := []supervisor.Option{
		supervisor.WithLogger(a.logger),
		supervisor.WithGracePeriod(a.cfg.Instance.GracePeriod),
		supervisor.WithOutputLines(a.cfg.Instance.OutputLines),
	}
	if a.metrics != nil {
		opts = append(opts, supervisor.WithMetricsCollector(a.metrics))
	}
	return opts
}

// resolver returns the default mapping for binary, pinned to override when
// one is configured.
func (a *app) resolver(binary, override string) *executable.Resolver {
	r := executable.NewDefaultResolver(binary, a.resolverOptions()...)
	if override != "" {
		for _, key := range platform.Supported() {
			r.OverrideArch(key.OS, key.Arch, override)
		}
	}
	return r
}

func (a *app) serverBuilder() *embedded.ServerBuilder {
	return embedded.NewServerBuilder().
		WithResolver(a.resolver(executable.ServerBinary, a.cfg.Executables.Server)).
		WithRegistry(a.registry).
		WithOptions(a.instanceOptions()...).
		Bind(a.cfg.Bind)
}

func (a *app) sentinelBuilder() *embedded.SentinelBuilder {
	return embedded.NewSentinelBuilder().
		WithResolver(a.resolver(executable.SentinelBinary, a.cfg.Executables.Sentinel)).
		WithRegistry(a.registry).
		WithOptions(a.instanceOptions()...).
		Bind(a.cfg.Bind)
}

func (a *app) clientBuilder() *embedded.ClusterClientBuilder {
	return embedded.NewClusterClientBuilder().
		WithResolver(a.resolver(executable.CLIBinary, a.cfg.Executables.CLI)).
		WithRegistry(a.registry).
		WithOptions(a.instanceOptions()...)
}

// serve starts r, prints a summary and blocks until SIGINT or SIGTERM, then
// stops everything through the shutdown registry.
func (a *app) serve(ctx context.Context, name, mode string, r topology.Redis) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := a.startMetrics()

	if err := a.launch(ctx, name, mode, r); err != nil {
		_ = a.shutdown(metricsServer)
		return err
	}
	a.ui.Subtle("Press Ctrl+C to stop")

	<-ctx.Done()
	a.logger.Info("shutting down", "topology", name)
	return a.shutdown(metricsServer)
}

// launch starts r within the configured start timeout and prints its summary.
func (a *app) launch(ctx context.Context, name, mode string, r topology.Redis) error {
	startCtx, cancel := context.WithTimeout(ctx, a.cfg.Instance.StartTimeout)
	defer cancel()

	if err := r.Start(startCtx); err != nil {
		a.ui.Error(fmt.Sprintf("%s failed to start: %v", name, err))
		if hint := rediserr.Suggestion(err); hint != "" {
			a.ui.Subtle(hint)
		}
		return err
	}
	a.ui.Summary(name, mode, describe(r))
	return nil
}

func (a *app) shutdown(metricsServer *http.Server) error {
	err := a.registry.Run()
	if err != nil {
		a.ui.Warning(fmt.Sprintf("cleanup incomplete: %v", err))
	} else {
		a.ui.Success("stopped")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown metrics server", "error", err)
		}
	}
	return err
}

func (a *app) startMetrics() *http.Server {
	if a.metrics == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("metrics endpoint", "url", "http://"+a.cfg.Metrics.Addr+"/metrics")
	return srv
}

// describe flattens a topology into summary rows.
func describe(r topology.Redis) []ui.Member {
	switch t := r.(type) {
	case *supervisor.Instance:
		return []ui.Member{{Role: t.Role(), Ports: t.Ports(), PID: t.PID()}}
	case *topology.Group:
		return describeAll(t.Members())
	case *topology.SentinelGroup:
		return append(describeAll(t.Servers()), describeAll(t.Sentinels())...)
	case *topology.Cluster:
		return describeAll(t.Servers())
	default:
		return []ui.Member{{Role: fmt.Sprintf("%T", r), Ports: r.Ports()}}
	}
}

func describeAll(members []topology.Redis) []ui.Member {
	var out []ui.Member
	for _, m := range members {
		out = append(out, describe(m)...)
	}
	return out
}
