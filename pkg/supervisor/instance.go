// Package supervisor launches a single redis process, waits for its readiness
// line, keeps its output pipes drained and terminates it on request.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
)

const (
	defaultGracePeriod = 10 * time.Second

	// Output lines are logged at debug level at most this often per instance.
	defaultOutputLogRate  = rate.Limit(100)
	defaultOutputLogBurst = 200

	tracerName = "github.com/jrepp/embedded-redis/pkg/supervisor"
)

// Instance supervises one redis process.
//
// Start, Stop and Run are serialized per instance; a Stop issued while a
// Start is in flight waits for it. IsActive and State are safe to call from
// any goroutine at any time.
type Instance struct {
	id    string
	role  string
	args  []string
	ready *regexp.Regexp
	ports PortAssignment

	logger      *slog.Logger
	logLimiter  *rate.Limiter
	metrics     MetricsCollector
	tracer      trace.Tracer
	registry    *shutdown.Registry
	gracePeriod time.Duration
	output      *outputBuffer

	lifecycle sync.Mutex
	stateMu   sync.RWMutex
	state     State

	cmd      *exec.Cmd
	drains   sync.WaitGroup
	hookOnce sync.Once
}

// New creates an idle instance for spec. The argument vector is copied, so
// later changes to the builder that produced spec do not affect it.
func New(spec Launchable, opts ...Option) *Instance {
	i := &Instance{
		id:          uuid.NewString(),
		role:        roleName(spec),
		args:        spec.Args(),
		ready:       spec.ReadyPattern(),
		ports:       spec.Ports(),
		logger:      slog.Default(),
		logLimiter:  rate.NewLimiter(defaultOutputLogRate, defaultOutputLogBurst),
		metrics:     NewNoopMetricsCollector(),
		tracer:      otel.Tracer(tracerName),
		registry:    shutdown.Default(),
		gracePeriod: defaultGracePeriod,
		output:      newOutputBuffer(defaultOutputLines),
	}

	for _, opt := range opts {
		opt(i)
	}

	i.logger = i.logger.With(
		"component", "supervisor",
		"instance_id", i.id,
		"role", i.role,
	)
	if i.ports.Port > 0 {
		i.logger = i.logger.With("port", i.ports.Port)
	}
	return i
}

func roleName(spec Launchable) string {
	if named, ok := spec.(interface{ Name() string }); ok {
		return named.Name()
	}
	args := spec.Args()
	if len(args) == 0 {
		return "unknown"
	}
	return filepath.Base(args[0])
}

// ID returns the unique instance identifier.
func (i *Instance) ID() string { return i.id }

// Role returns the role name, e.g. redis-server.
func (i *Instance) Role() string { return i.role }

// Args returns a copy of the argument vector.
func (i *Instance) Args() []string { return append([]string(nil), i.args...) }

// Ports returns the plain port, or nothing when it is zero.
func (i *Instance) Ports() []int { return portSet(i.ports.Port) }

// TLSPorts returns the TLS port, or nothing when it is zero.
func (i *Instance) TLSPorts() []int { return portSet(i.ports.TLSPort) }

// Output returns the most recent lines the process printed.
func (i *Instance) Output() string { return i.output.String() }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.stateMu.RLock()
	defer i.stateMu.RUnlock()
	return i.state
}

// IsActive reports whether the instance is Ready.
func (i *Instance) IsActive() bool {
	return i.State() == StateReady
}

func (i *Instance) setState(s State) {
	i.stateMu.Lock()
	from := i.state
	i.state = s
	i.stateMu.Unlock()

	if from != s {
		i.metrics.InstanceStateTransition(i.role, from, s)
	}
}

// Start launches the process and blocks until its readiness line appears.
// There is no internal timeout; cancel ctx to give up, which kills the
// process. Starting a Ready instance is an ALREADY_RUNNING error; a Stopped
// instance may be started again.
func (i *Instance) Start(ctx context.Context) error {
	ctx, span := i.tracer.Start(ctx, "redis.instance.start", trace.WithAttributes(i.spanAttributes()...))
	defer span.End()

	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	if i.State() == StateReady {
		i.metrics.InstanceError(i.role, "already_running")
		err := rediserr.AlreadyRunning(i.id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "already running")
		return err
	}

	started := time.Now()
	err := i.start(ctx)
	i.metrics.InstanceStartDuration(i.role, time.Since(started), err)
	if err != nil {
		i.metrics.InstanceError(i.role, "startup")
		i.logger.Error("instance failed to start", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "startup failed")
		return err
	}

	span.SetAttributes(attribute.Int("redis.pid", i.cmd.Process.Pid))
	i.logger.Info("instance ready", "pid", i.cmd.Process.Pid, "elapsed", time.Since(started))
	return nil
}

func (i *Instance) spanAttributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("redis.instance_id", i.id),
		attribute.String("redis.role", i.role),
	}
	if i.ports.Port > 0 {
		attrs = append(attrs, attribute.Int("redis.port", i.ports.Port))
	}
	if i.ports.TLSPort > 0 {
		attrs = append(attrs, attribute.Int("redis.tls_port", i.ports.TLSPort))
	}
	return attrs
}

func (i *Instance) start(ctx context.Context) error {
	if len(i.args) == 0 {
		return i.startupError(errors.New("empty argument vector"))
	}

	i.setState(StateStarting)
	i.output.reset()

	if err := ctx.Err(); err != nil {
		i.setState(StateIdle)
		return i.startupError(err)
	}

	cmd := exec.Command(i.args[0], i.args[1:]...)
	cmd.Dir = filepath.Dir(i.args[0])
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		i.setState(StateIdle)
		return i.startupError(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		i.setState(StateIdle)
		return i.startupError(fmt.Errorf("stderr pipe: %w", err))
	}

	i.logger.Debug("launching instance", "args", strings.Join(i.args, " "))
	if err := cmd.Start(); err != nil {
		i.setState(StateIdle)
		return i.startupError(fmt.Errorf("launch %s: %w", i.args[0], err))
	}

	i.hookOnce.Do(func() {
		i.registry.Add(fmt.Sprintf("stop %s %s", i.role, i.id), i.Stop)
	})

	readyCh := make(chan bool, 1)
	i.drains.Add(2)
	go i.drain(stderr, "stderr")
	go i.watch(stdout, readyCh)

	var cause error
	select {
	case ready := <-readyCh:
		if ready {
			i.cmd = cmd
			i.setState(StateReady)
			return nil
		}
		cause = errors.New("output ended before the readiness line appeared")
	case <-ctx.Done():
		cause = ctx.Err()
	}

	// The process may already be gone; Kill then only reports that. Wait
	// closes the pipes, so it runs only after both streams hit EOF.
	_ = cmd.Process.Kill()
	i.drains.Wait()
	waitErr := cmd.Wait()
	i.setState(StateIdle)

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.Exited() {
		cause = fmt.Errorf("%w (%v)", cause, waitErr)
	}
	return i.startupError(cause)
}

func (i *Instance) startupError(cause error) error {
	return rediserr.Startup(i.id, i.role, i.output.String(), cause).
		WithContext("args", strings.Join(i.args, " "))
}

// watch scans stdout for the readiness line and keeps draining afterwards.
// It reports exactly once on readyCh.
func (i *Instance) watch(r io.Reader, readyCh chan<- bool) {
	defer i.drains.Done()

	matched := false
	i.scan(r, "stdout", func(line string) {
		if !matched && i.ready.MatchString(line) {
			matched = true
			readyCh <- true
		}
	})
	if !matched {
		readyCh <- false
	}
}

func (i *Instance) drain(r io.Reader, stream string) {
	defer i.drains.Done()
	i.scan(r, stream, nil)
}

func (i *Instance) scan(r io.Reader, stream string, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	debug := i.logger.Enabled(context.Background(), slog.LevelDebug)

	suppressed := 0
	for scanner.Scan() {
		line := scanner.Text()
		i.output.add(line)
		i.metrics.OutputLine(i.role, stream)
		if debug {
			if i.logLimiter.Allow() {
				i.logger.Debug(line, "stream", stream)
			} else {
				suppressed++
			}
		}
		if onLine != nil {
			onLine(line)
		}
	}
	if suppressed > 0 {
		i.logger.Debug("output lines not logged due to rate limit", "stream", stream, "count", suppressed)
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}

	i.metrics.InstanceError(i.role, "drain")
	i.logger.Warn("output drain failed, discarding the rest", "stream", stream, "error", err)
	// The child must never block on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// Stop terminates the process and waits for it to exit. It is a no-op unless
// the instance is Ready, so repeated calls are harmless.
func (i *Instance) Stop() error {
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	if i.State() != StateReady {
		return nil
	}

	_, span := i.tracer.Start(context.Background(), "redis.instance.stop", trace.WithAttributes(i.spanAttributes()...))
	defer span.End()

	started := time.Now()
	cmd := i.cmd
	waitErr := i.terminate(cmd)
	i.drains.Wait()
	i.cmd = nil
	i.setState(StateStopped)
	i.metrics.InstanceStopDuration(i.role, time.Since(started))

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		i.metrics.InstanceError(i.role, "stop")
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, "stop failed")
		return rediserr.Stop(i.id, waitErr)
	}

	i.logger.Info("instance stopped", "elapsed", time.Since(started))
	return nil
}

// terminate sends the graceful signal, escalates to kill after the grace
// period and returns the result of Wait. Wait is called once the drains have
// read everything the process wrote.
func (i *Instance) terminate(cmd *exec.Cmd) error {
	waitCh := make(chan error, 1)
	go func() {
		i.drains.Wait()
		waitCh <- cmd.Wait()
	}()

	if err := terminateProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		i.logger.Debug("terminate signal failed", "error", err)
	}

	timer := time.NewTimer(i.gracePeriod)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
		i.logger.Warn("instance ignored terminate signal, killing", "grace_period", i.gracePeriod)
		_ = cmd.Process.Kill()
		return <-waitCh
	}
}

// Run starts a one-shot process, such as the cluster-forming client, and
// waits for it to exit on its own after it reported readiness.
func (i *Instance) Run(ctx context.Context) error {
	if err := i.Start(ctx); err != nil {
		return err
	}

	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()

	if i.State() != StateReady {
		return nil
	}

	cmd := i.cmd
	drained := make(chan struct{})
	go func() {
		i.drains.Wait()
		close(drained)
	}()

	var cause error
	select {
	case <-drained:
	case <-ctx.Done():
		cause = ctx.Err()
		_ = cmd.Process.Kill()
	}

	waitErr := cmd.Wait()
	<-drained
	i.cmd = nil
	i.setState(StateStopped)

	if cause != nil {
		return fmt.Errorf("%s interrupted: %w", i.role, cause)
	}
	if waitErr != nil {
		i.metrics.InstanceError(i.role, "exit")
		return fmt.Errorf("%s exited: %w", i.role, waitErr)
	}
	return nil
}

// PID returns the process id while the instance is Ready, otherwise 0.
func (i *Instance) PID() int {
	if !i.IsActive() {
		return 0
	}
	i.lifecycle.Lock()
	defer i.lifecycle.Unlock()
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}
