// Package redistest starts real redis processes for integration tests.
//
// Binaries come from the bundled artifacts when present, otherwise from
// PATH. Tests are skipped when neither has them.
package redistest

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/platform"
	"github.com/jrepp/embedded-redis/pkg/ports"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
)

// StartTimeout bounds how long StartServer waits for readiness.
const StartTimeout = 30 * time.Second

// Registry returns a shutdown registry run by t.Cleanup.
func Registry(t testing.TB) *shutdown.Registry {
	t.Helper()
	reg := shutdown.NewRegistry()
	t.Cleanup(func() {
		if err := reg.Run(); err != nil {
			t.Logf("shutdown hooks: %v", err)
		}
	})
	return reg
}

// ServerResolver returns a redis-server resolver or skips t.
func ServerResolver(t testing.TB) *executable.Resolver {
	t.Helper()
	return resolver(t, executable.ServerBinary, executable.ServerResolver)
}

// SentinelResolver returns a redis-sentinel resolver or skips t.
func SentinelResolver(t testing.TB) *executable.Resolver {
	t.Helper()
	return resolver(t, executable.SentinelBinary, executable.SentinelResolver)
}

// CLIResolver returns a redis-cli resolver or skips t.
func CLIResolver(t testing.TB) *executable.Resolver {
	t.Helper()
	return resolver(t, executable.CLIBinary, executable.CLIResolver)
}

func resolver(t testing.TB, binary string, defaults func(...executable.Option) *executable.Resolver) *executable.Resolver {
	t.Helper()
	reg := Registry(t)

	r := defaults(executable.WithRegistry(reg))
	if _, err := r.Resolve(context.Background()); err == nil {
		return r
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		t.Skipf("%s not bundled and not on PATH", binary)
	}

	r = executable.NewResolver(executable.WithRegistry(reg))
	for _, key := range platform.Supported() {
		r.OverrideArch(key.OS, key.Arch, path)
	}
	return r
}

// StartServer builds a server on a free port, applies configure, starts it
// and stops it when t finishes.
func StartServer(t testing.TB, ctx context.Context, configure ...func(*embedded.ServerBuilder)) *supervisor.Instance {
	t.Helper()

	port, err := ports.NewEphemeralProvider().Next()
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}

	b := embedded.NewServerBuilder().
		WithResolver(ServerResolver(t)).
		WithRegistry(Registry(t)).
		Port(port)
	for _, fn := range configure {
		fn(b)
	}

	inst, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("build server: %v", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, StartTimeout)
	defer cancel()
	if err := inst.Start(startCtx); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		if err := inst.Stop(); err != nil {
			t.Logf("stop server: %v", err)
		}
	})
	return inst
}

// Crash kills inst's process without going through Stop, the way a crash
// or OOM kill would.
func Crash(t testing.TB, inst *supervisor.Instance) {
	t.Helper()

	pid := inst.PID()
	if pid == 0 {
		t.Fatalf("instance %s has no process", inst.ID())
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		t.Fatalf("find process %d: %v", pid, err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("kill process %d: %v", pid, err)
	}
}
