package supervisor

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jrepp/embedded-redis/pkg/shutdown"
)

// Option configures an Instance
type Option func(*Instance)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(i *Instance) {
		i.logger = logger
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(i *Instance) {
		i.metrics = mc
	}
}

// WithRegistry sets the registry the instance's stop hook is added to
func WithRegistry(reg *shutdown.Registry) Option {
	return func(i *Instance) {
		i.registry = reg
	}
}

// WithGracePeriod sets how long Stop waits after the terminate signal
// before killing the process
func WithGracePeriod(d time.Duration) Option {
	return func(i *Instance) {
		i.gracePeriod = d
	}
}

// WithOutputLines sets how many output lines are kept for diagnostics
func WithOutputLines(n int) Option {
	return func(i *Instance) {
		i.output = newOutputBuffer(n)
	}
}

// WithTracer sets the tracer used for start and stop spans. The global
// provider is used by default.
func WithTracer(tracer trace.Tracer) Option {
	return func(i *Instance) {
		i.tracer = tracer
	}
}

// WithOutputLogLimit caps how many output lines per second are logged at
// debug level. Lines over the limit are still buffered and counted.
func WithOutputLogLimit(perSecond rate.Limit, burst int) Option {
	return func(i *Instance) {
		i.logLimiter = rate.NewLimiter(perSecond, burst)
	}
}
