package embedded

import (
	"context"
	"strconv"

	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
)

// ServerBuilder configures redis-server instances.
//
// Methods record the first error and return the builder, so calls chain;
// the error surfaces from Build.
type ServerBuilder struct {
	common

	bind           string
	port           int
	tlsPort        int
	replicaOfHost  string
	replicaOfPort  int
	clusterEnabled bool
}

// NewServerBuilder returns a builder for a server on DefaultServerPort bound
// to DefaultHost.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{
		common: newCommon(executable.ServerResolver()),
		bind:   DefaultHost,
		port:   DefaultServerPort,
	}
}

// NewServer builds a default server on port.
func NewServer(ctx context.Context, port int) (*supervisor.Instance, error) {
	return NewServerBuilder().Port(port).Build(ctx)
}

// WithResolver sets the executable resolver.
func (b *ServerBuilder) WithResolver(r *executable.Resolver) *ServerBuilder {
	b.resolver = r
	return b
}

// WithRegistry sets where instance stop hooks and config cleanup go.
func (b *ServerBuilder) WithRegistry(reg *shutdown.Registry) *ServerBuilder {
	b.registry = reg
	return b
}

// WithOptions adds supervisor options applied to every built instance.
func (b *ServerBuilder) WithOptions(opts ...supervisor.Option) *ServerBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Bind sets the listen address written to the generated config.
func (b *ServerBuilder) Bind(host string) *ServerBuilder {
	b.bind = host
	return b
}

// Port sets the plain TCP port.
func (b *ServerBuilder) Port(port int) *ServerBuilder {
	if !validPort(port) {
		b.fail(invalidPort("server port", port))
		return b
	}
	b.port = port
	return b
}

// TLSPort sets the TLS port. Zero disables TLS.
func (b *ServerBuilder) TLSPort(port int) *ServerBuilder {
	if !validPort(port) {
		b.fail(invalidPort("TLS port", port))
		return b
	}
	b.tlsPort = port
	return b
}

// ReplicaOf makes the server replicate from host:port.
func (b *ServerBuilder) ReplicaOf(host string, port int) *ServerBuilder {
	if !validPort(port) {
		b.fail(invalidPort("master port", port))
		return b
	}
	b.replicaOfHost = host
	b.replicaOfPort = port
	return b
}

// ClusterEnabled turns on cluster mode.
func (b *ServerBuilder) ClusterEnabled(enabled bool) *ServerBuilder {
	b.clusterEnabled = enabled
	return b
}

// Setting adds a raw config line such as "maxmemory 128mb".
func (b *ServerBuilder) Setting(line string) *ServerBuilder {
	if err := b.conf.add(line); err != nil {
		b.fail(err)
	}
	return b
}

// ConfigFile uses an existing redis.conf instead of inline settings.
func (b *ServerBuilder) ConfigFile(path string) *ServerBuilder {
	if err := b.conf.setFile(path); err != nil {
		b.fail(err)
	}
	return b
}

// Reset clears per-instance state (settings, config file, TLS port,
// replication target and any recorded error) so the builder can produce
// another instance. Bind address, cluster mode, resolver and options stay.
func (b *ServerBuilder) Reset() *ServerBuilder {
	b.conf.reset()
	b.err = nil
	b.tlsPort = 0
	b.replicaOfHost = ""
	b.replicaOfPort = 0
	return b
}

// Build resolves the executable, writes the config and returns an idle
// instance. The returned instance is unaffected by later builder calls.
func (b *ServerBuilder) Build(ctx context.Context) (*supervisor.Instance, error) {
	spec, err := b.Spec(ctx)
	if err != nil {
		return nil, err
	}
	return b.instance(spec), nil
}

// Spec is Build without the supervisor.
func (b *ServerBuilder) Spec(ctx context.Context) (*supervisor.InstanceSpec, error) {
	if b.err != nil {
		return nil, b.err
	}

	exe, err := b.resolve(ctx, supervisor.ServerRole)
	if err != nil {
		return nil, err
	}

	args := []string{exe}
	conf := b.conf.configFile
	if conf == "" {
		// Persistence stays off unless a setting turns it back on.
		lines := []string{`save ""`, "appendonly no"}
		lines = append(lines, b.conf.lines...)
		lines = append(lines, "bind "+b.bind)
		conf, err = writeConfig(b.registry, "server", b.port, lines)
		if err != nil {
			return nil, err
		}
	}
	args = append(args, conf)

	args = append(args, "--port", strconv.Itoa(b.port))
	if b.tlsPort > 0 {
		args = append(args, "--tls-port", strconv.Itoa(b.tlsPort))
	}
	if b.replicaOfHost != "" {
		args = append(args, "--replicaof", b.replicaOfHost, strconv.Itoa(b.replicaOfPort))
	}
	if b.clusterEnabled {
		nodes, err := writeConfig(b.registry, "nodes", b.port, nil)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cluster-enabled", "yes", "--cluster-config-file", nodes)
	}
	args = append(args, "--loglevel", "debug", "--daemonize", "no", "--protected-mode", "no")

	return &supervisor.InstanceSpec{
		Role:     supervisor.ServerRole,
		Argv:     args,
		Assigned: supervisor.PortAssignment{Port: b.port, TLSPort: b.tlsPort},
	}, nil
}
