package topology

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/ports"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
)

// StartOrder decides whether sentinels or servers start first. Stop uses
// the same order.
type StartOrder int

const (
	SentinelsFirst StartOrder = iota
	ServersFirst
)

// String returns the flag and log form of o.
func (o StartOrder) String() string {
	if o == ServersFirst {
		return "servers-first"
	}
	return "sentinels-first"
}

// ReplicationGroup is one master and its replicas as assigned by the builder.
type ReplicationGroup struct {
	MasterName   string
	MasterPort   int
	ReplicaPorts []int
}

// SentinelGroup is a set of sentinels monitoring one or more replication
// groups.
type SentinelGroup struct {
	sentinels []Redis
	servers   []Redis
	groups    []ReplicationGroup
	order     StartOrder
	logger    *slog.Logger
}

// NewSentinelGroup assembles a topology from already built members.
func NewSentinelGroup(sentinels, servers []Redis, groups []ReplicationGroup, order StartOrder) *SentinelGroup {
	return &SentinelGroup{
		sentinels: sentinels,
		servers:   servers,
		groups:    groups,
		order:     order,
		logger:    slog.Default().With("component", "topology", "topology", "sentinel"),
	}
}

func (s *SentinelGroup) members() []Redis {
	out := make([]Redis, 0, len(s.sentinels)+len(s.servers))
	if s.order == ServersFirst {
		out = append(out, s.servers...)
		return append(out, s.sentinels...)
	}
	out = append(out, s.sentinels...)
	return append(out, s.servers...)
}

// Start starts every member in start order.
func (s *SentinelGroup) Start(ctx context.Context) error {
	s.logger.Info("starting sentinel topology",
		"sentinels", len(s.sentinels), "servers", len(s.servers), "order", s.order.String())
	return startAll(ctx, s.logger, s.members())
}

// Stop stops every member in start order and joins the errors.
func (s *SentinelGroup) Stop() error {
	return stopAll(s.members())
}

// IsActive reports whether every member is active.
func (s *SentinelGroup) IsActive() bool {
	return allActive(s.members())
}

// Ports returns every member port, sorted.
func (s *SentinelGroup) Ports() []int {
	return collectPorts(s.members(), Redis.Ports)
}

// TLSPorts returns every member TLS port, sorted.
func (s *SentinelGroup) TLSPorts() []int {
	return collectPorts(s.members(), Redis.TLSPorts)
}

// SentinelPorts returns the sentinel ports.
func (s *SentinelGroup) SentinelPorts() []int {
	return collectPorts(s.sentinels, Redis.Ports)
}

// ServerPorts returns master and replica ports.
func (s *SentinelGroup) ServerPorts() []int {
	return collectPorts(s.servers, Redis.Ports)
}

// Sentinels returns the sentinel members.
func (s *SentinelGroup) Sentinels() []Redis {
	return append([]Redis(nil), s.sentinels...)
}

// Servers returns masters and replicas in build order.
func (s *SentinelGroup) Servers() []Redis {
	return append([]Redis(nil), s.servers...)
}

// ReplicationGroups returns the port assignment of each group.
func (s *SentinelGroup) ReplicationGroups() []ReplicationGroup {
	return append([]ReplicationGroup(nil), s.groups...)
}

type groupSpec struct {
	name     string
	replicas int
}

// SentinelGroupBuilder assembles sentinel-monitored replication groups.
//
//	group, err := topology.NewSentinelGroupBuilder().
//	    SentinelCount(3).
//	    QuorumSize(2).
//	    ReplicationGroup("mymaster", 2).
//	    Build(ctx)
type SentinelGroupBuilder struct {
	serverBuilder   *embedded.ServerBuilder
	sentinelBuilder *embedded.SentinelBuilder

	host            string
	sentinelCount   int
	quorum          int
	downAfter       time.Duration
	failoverTimeout time.Duration
	parallelSyncs   int
	groups          []groupSpec
	serverSettings  []string
	serverPorts     ports.Provider
	sentinelPorts   ports.Provider
	order           StartOrder

	// Captured on the first Build, before the templates are Reset.
	serverTmpl   *template
	sentinelTmpl *template

	err error
}

// NewSentinelGroupBuilder returns a builder for one sentinel, servers from
// DefaultServerPort and sentinels from DefaultSentinelPort.
func NewSentinelGroupBuilder() *SentinelGroupBuilder {
	return &SentinelGroupBuilder{
		serverBuilder:   embedded.NewServerBuilder(),
		sentinelBuilder: embedded.NewSentinelBuilder(),
		host:            embedded.DefaultHost,
		sentinelCount:   1,
		serverPorts:     ports.NewSequenceProvider(embedded.DefaultServerPort),
		sentinelPorts:   ports.NewSequenceProvider(embedded.DefaultSentinelPort),
	}
}

func (b *SentinelGroupBuilder) fail(err error) *SentinelGroupBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// WithServerBuilder sets the template used for every master and replica.
func (b *SentinelGroupBuilder) WithServerBuilder(sb *embedded.ServerBuilder) *SentinelGroupBuilder {
	b.serverBuilder = sb
	return b
}

// WithSentinelBuilder sets the template used for every sentinel.
func (b *SentinelGroupBuilder) WithSentinelBuilder(sb *embedded.SentinelBuilder) *SentinelGroupBuilder {
	b.sentinelBuilder = sb
	return b
}

// Host sets the address every member binds to, which is also the address
// replicas and sentinels use to reach masters.
func (b *SentinelGroupBuilder) Host(host string) *SentinelGroupBuilder {
	b.host = host
	return b
}

// SentinelCount sets how many sentinels to run.
func (b *SentinelGroupBuilder) SentinelCount(n int) *SentinelGroupBuilder {
	if n < 1 {
		return b.fail(rediserr.Build("Sentinel count must be at least 1", nil).WithContext("sentinels", n))
	}
	b.sentinelCount = n
	return b
}

// QuorumSize sets the quorum of every monitored group.
func (b *SentinelGroupBuilder) QuorumSize(q int) *SentinelGroupBuilder {
	if q < 1 {
		return b.fail(rediserr.Build("Quorum must be at least 1", nil).WithContext("quorum", q))
	}
	b.quorum = q
	return b
}

// DownAfter sets down-after-milliseconds for every group.
func (b *SentinelGroupBuilder) DownAfter(d time.Duration) *SentinelGroupBuilder {
	b.downAfter = d
	return b
}

// FailoverTimeout sets the failover timeout for every group.
func (b *SentinelGroupBuilder) FailoverTimeout(d time.Duration) *SentinelGroupBuilder {
	b.failoverTimeout = d
	return b
}

// ParallelSyncs sets parallel-syncs for every group.
func (b *SentinelGroupBuilder) ParallelSyncs(n int) *SentinelGroupBuilder {
	b.parallelSyncs = n
	return b
}

// ReplicationGroup declares a master named name with replicas replicas.
func (b *SentinelGroupBuilder) ReplicationGroup(name string, replicas int) *SentinelGroupBuilder {
	if name == "" {
		return b.fail(rediserr.Build("Replication group needs a master name", nil))
	}
	if replicas < 0 {
		return b.fail(rediserr.Build("Replica count cannot be negative", nil).
			WithContext("group", name).WithContext("replicas", replicas))
	}
	for _, g := range b.groups {
		if g.name == name {
			return b.fail(rediserr.Build("Duplicate replication group", nil).WithContext("group", name))
		}
	}
	b.groups = append(b.groups, groupSpec{name: name, replicas: replicas})
	return b
}

// ServerSetting adds a config line to every master and replica.
func (b *SentinelGroupBuilder) ServerSetting(line string) *SentinelGroupBuilder {
	b.serverSettings = append(b.serverSettings, line)
	return b
}

// ServerPorts sets the provider for master and replica ports.
func (b *SentinelGroupBuilder) ServerPorts(p ports.Provider) *SentinelGroupBuilder {
	b.serverPorts = p
	return b
}

// ServerPortsFrom draws server ports from list.
func (b *SentinelGroupBuilder) ServerPortsFrom(list ...int) *SentinelGroupBuilder {
	return b.ServerPorts(ports.NewPredefinedProvider(list...))
}

// ServerStartingPort draws server ports sequentially from port.
func (b *SentinelGroupBuilder) ServerStartingPort(port int) *SentinelGroupBuilder {
	return b.ServerPorts(ports.NewSequenceProvider(port))
}

// EphemeralServerPorts lets the OS pick server ports.
func (b *SentinelGroupBuilder) EphemeralServerPorts() *SentinelGroupBuilder {
	return b.ServerPorts(ports.NewEphemeralProvider())
}

// SentinelPorts sets the provider for sentinel ports.
func (b *SentinelGroupBuilder) SentinelPorts(p ports.Provider) *SentinelGroupBuilder {
	b.sentinelPorts = p
	return b
}

// SentinelPortsFrom draws sentinel ports from list.
func (b *SentinelGroupBuilder) SentinelPortsFrom(list ...int) *SentinelGroupBuilder {
	return b.SentinelPorts(ports.NewPredefinedProvider(list...))
}

// SentinelStartingPort draws sentinel ports sequentially from port.
func (b *SentinelGroupBuilder) SentinelStartingPort(port int) *SentinelGroupBuilder {
	return b.SentinelPorts(ports.NewSequenceProvider(port))
}

// EphemeralSentinelPorts lets the OS pick sentinel ports.
func (b *SentinelGroupBuilder) EphemeralSentinelPorts() *SentinelGroupBuilder {
	return b.SentinelPorts(ports.NewEphemeralProvider())
}

// StartOrder sets whether sentinels or servers start first.
func (b *SentinelGroupBuilder) StartOrder(order StartOrder) *SentinelGroupBuilder {
	b.order = order
	return b
}

// Build draws ports (master first, then its replicas, group by group), builds
// every server and then every sentinel. Any failure aborts the build.
func (b *SentinelGroupBuilder) Build(ctx context.Context) (*SentinelGroup, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.groups) == 0 {
		return nil, rediserr.Build("Sentinel topology needs at least one replication group", nil).
			WithSuggestion("Call ReplicationGroup(name, replicas) before Build")
	}
	if err := b.captureTemplates(); err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "topology", "topology", "sentinel")
	if b.quorum > b.sentinelCount {
		logger.Warn("quorum exceeds sentinel count, failover can never be agreed",
			"quorum", b.quorum, "sentinels", b.sentinelCount)
	}

	var (
		servers []Redis
		groups  []ReplicationGroup
	)
	for _, g := range b.groups {
		masterPort, err := b.serverPorts.Next()
		if err != nil {
			return nil, fmt.Errorf("allocate master port for %s: %w", g.name, err)
		}
		master, err := b.server(masterPort).Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build master %s: %w", g.name, err)
		}
		servers = append(servers, master)

		rg := ReplicationGroup{MasterName: g.name, MasterPort: masterPort}
		for i := 0; i < g.replicas; i++ {
			replicaPort, err := b.serverPorts.Next()
			if err != nil {
				return nil, fmt.Errorf("allocate replica port for %s: %w", g.name, err)
			}
			replica, err := b.server(replicaPort).ReplicaOf(b.host, masterPort).Build(ctx)
			if err != nil {
				return nil, fmt.Errorf("build replica of %s: %w", g.name, err)
			}
			servers = append(servers, replica)
			rg.ReplicaPorts = append(rg.ReplicaPorts, replicaPort)
		}
		groups = append(groups, rg)
	}

	sentinels := make([]Redis, 0, b.sentinelCount)
	for i := 0; i < b.sentinelCount; i++ {
		port, err := b.sentinelPorts.Next()
		if err != nil {
			return nil, fmt.Errorf("allocate sentinel port: %w", err)
		}
		sb := b.sentinel(port)
		for _, rg := range groups {
			sb.AddReplicationGroup(rg.MasterName, rg.MasterPort)
		}
		sentinel, err := sb.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build sentinel %d: %w", i, err)
		}
		sentinels = append(sentinels, sentinel)
	}

	return NewSentinelGroup(sentinels, servers, groups, b.order), nil
}

func (b *SentinelGroupBuilder) captureTemplates() error {
	if b.serverTmpl == nil {
		tmpl, err := captureTemplate("server", b.serverBuilder)
		if err != nil {
			return err
		}
		b.serverTmpl = tmpl
	}
	if b.sentinelTmpl == nil {
		tmpl, err := captureTemplate("sentinel", b.sentinelBuilder)
		if err != nil {
			return err
		}
		b.sentinelTmpl = tmpl
	}
	return nil
}

func (b *SentinelGroupBuilder) server(port int) *embedded.ServerBuilder {
	sb := b.serverBuilder.Reset().Port(port).Bind(b.host)
	b.serverTmpl.apply(func(path string) { sb.ConfigFile(path) }, func(line string) { sb.Setting(line) })
	for _, line := range b.serverSettings {
		sb.Setting(line)
	}
	return sb
}

func (b *SentinelGroupBuilder) sentinel(port int) *embedded.SentinelBuilder {
	sb := b.sentinelBuilder.Reset().Port(port).Bind(b.host).MasterHost(b.host)
	b.sentinelTmpl.apply(func(path string) { sb.ConfigFile(path) }, func(line string) { sb.Setting(line) })
	if b.quorum > 0 {
		sb.QuorumSize(b.quorum)
	}
	if b.downAfter > 0 {
		sb.DownAfter(b.downAfter)
	}
	if b.failoverTimeout > 0 {
		sb.FailoverTimeout(b.failoverTimeout)
	}
	if b.parallelSyncs > 0 {
		sb.ParallelSyncs(b.parallelSyncs)
	}
	return sb
}
