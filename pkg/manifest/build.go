package manifest

import (
	"context"
	"fmt"

	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/platform"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

type buildConfig struct {
	registry     *shutdown.Registry
	instanceOpts []supervisor.Option
	resolverOpts []executable.Option
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithRegistry sets where stop hooks and temp file cleanup are registered.
func WithRegistry(reg *shutdown.Registry) BuildOption {
	return func(c *buildConfig) {
		c.registry = reg
	}
}

// WithInstanceOptions adds supervisor options to every instance.
func WithInstanceOptions(opts ...supervisor.Option) BuildOption {
	return func(c *buildConfig) {
		c.instanceOpts = append(c.instanceOpts, opts...)
	}
}

// WithResolverOptions adds options to the default executable resolvers.
func WithResolverOptions(opts ...executable.Option) BuildOption {
	return func(c *buildConfig) {
		c.resolverOpts = append(c.resolverOpts, opts...)
	}
}

// Build validates m and assembles the topology it describes. Nothing is
// started.
func Build(ctx context.Context, m *Manifest, opts ...BuildOption) (topology.Redis, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	cfg := &buildConfig{registry: shutdown.Default()}
	for _, opt := range opts {
		opt(cfg)
	}
	// Caller resolver options come last so they can keep extraction cleanup
	// on a longer lived registry.
	cfg.resolverOpts = append([]executable.Option{executable.WithRegistry(cfg.registry)}, cfg.resolverOpts...)

	host := m.Bind
	if host == "" {
		host = embedded.DefaultHost
	}

	server := embedded.NewServerBuilder().
		WithResolver(m.resolver(executable.ServerResolver(cfg.resolverOpts...), m.Executables.Server)).
		WithRegistry(cfg.registry).
		WithOptions(cfg.instanceOpts...).
		Bind(host)

	switch m.Mode {
	case ModeSentinel:
		sentinel := embedded.NewSentinelBuilder().
			WithResolver(m.resolver(executable.SentinelResolver(cfg.resolverOpts...), m.Executables.Sentinel)).
			WithRegistry(cfg.registry).
			WithOptions(cfg.instanceOpts...).
			Bind(host)
		return m.buildSentinel(ctx, host, server, sentinel)
	case ModeCluster:
		client := embedded.NewClusterClientBuilder().
			WithResolver(m.resolver(executable.CLIResolver(cfg.resolverOpts...), m.Executables.CLI)).
			WithRegistry(cfg.registry).
			WithOptions(cfg.instanceOpts...)
		return m.buildCluster(ctx, host, server, client)
	default:
		return m.buildStandalone(ctx, host, server)
	}
}

// resolver applies a manifest path override to every platform of r.
func (m *Manifest) resolver(r *executable.Resolver, override string) *executable.Resolver {
	if override == "" {
		return r
	}
	exe := m.ResolvePath(override)
	for _, key := range platform.Supported() {
		r.OverrideArch(key.OS, key.Arch, exe)
	}
	return r
}

func (m *Manifest) buildStandalone(ctx context.Context, host string, sb *embedded.ServerBuilder) (topology.Redis, error) {
	members := make([]topology.Redis, 0, len(m.Servers))
	for i, s := range m.Servers {
		b := sb.Reset().Port(s.Port)
		if s.TLSPort != 0 {
			b.TLSPort(s.TLSPort)
		}
		if s.ReplicaOf != 0 {
			b.ReplicaOf(host, s.ReplicaOf)
		}
		for _, line := range s.Settings {
			b.Setting(line)
		}
		if s.ConfigFile != "" {
			b.ConfigFile(m.ResolvePath(s.ConfigFile))
		}

		server, err := b.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build servers[%d]: %w", i, err)
		}
		members = append(members, server)
	}
	return topology.NewGroup(members...), nil
}

func (m *Manifest) buildSentinel(ctx context.Context, host string, server *embedded.ServerBuilder, sentinel *embedded.SentinelBuilder) (topology.Redis, error) {
	s := m.Sentinel
	order, _ := parseStartOrder(s.StartOrder)

	b := topology.NewSentinelGroupBuilder().
		WithServerBuilder(server).
		WithSentinelBuilder(sentinel).
		Host(host).
		StartOrder(order)

	if s.Count > 0 {
		b.SentinelCount(s.Count)
	}
	if s.Quorum > 0 {
		b.QuorumSize(s.Quorum)
	}
	if s.DownAfter > 0 {
		b.DownAfter(s.DownAfter)
	}
	if s.FailoverTimeout > 0 {
		b.FailoverTimeout(s.FailoverTimeout)
	}
	if s.ParallelSyncs > 0 {
		b.ParallelSyncs(s.ParallelSyncs)
	}
	if s.StartingPort > 0 {
		b.SentinelStartingPort(s.StartingPort)
	}
	switch {
	case len(s.ServerPorts) > 0:
		b.ServerPortsFrom(s.ServerPorts...)
	case s.ServerStartingPort > 0:
		b.ServerStartingPort(s.ServerStartingPort)
	}
	for _, line := range s.ServerSettings {
		b.ServerSetting(line)
	}
	for _, g := range s.Groups {
		b.ReplicationGroup(g.Name, g.Replicas)
	}

	group, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (m *Manifest) buildCluster(ctx context.Context, host string, server *embedded.ServerBuilder, client *embedded.ClusterClientBuilder) (topology.Redis, error) {
	c := m.Cluster
	b := topology.NewClusterBuilder().
		WithServerBuilder(server).
		WithClientBuilder(client).
		Host(host).
		NodePorts(c.Ports...).
		ClusterReplicas(c.Replicas)
	for _, line := range c.Settings {
		b.ServerSetting(line)
	}

	cluster, err := b.Build(ctx)
	if err != nil {
		return nil, err
	}
	return cluster, nil
}
