package embedded

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
)

// Monitor is one replication group watched by a sentinel. Zero fields take
// the builder's values at Build time.
type Monitor struct {
	MasterName      string
	Host            string
	Port            int
	Quorum          int
	DownAfter       time.Duration
	FailoverTimeout time.Duration
	ParallelSyncs   int
}

func (m Monitor) lines() []string {
	return []string{
		fmt.Sprintf("sentinel monitor %s %s %d %d", m.MasterName, m.Host, m.Port, m.Quorum),
		fmt.Sprintf("sentinel down-after-milliseconds %s %d", m.MasterName, m.DownAfter.Milliseconds()),
		fmt.Sprintf("sentinel failover-timeout %s %d", m.MasterName, m.FailoverTimeout.Milliseconds()),
		fmt.Sprintf("sentinel parallel-syncs %s %d", m.MasterName, m.ParallelSyncs),
	}
}

// SentinelBuilder configures redis-sentinel instances.
type SentinelBuilder struct {
	common

	bind            string
	port            int
	masterHost      string
	masterPort      int
	masterName      string
	quorum          int
	downAfter       time.Duration
	failoverTimeout time.Duration
	parallelSyncs   int
	monitors        []Monitor
}

// NewSentinelBuilder returns a builder for a sentinel on DefaultSentinelPort
// that monitors DefaultMasterName at DefaultHost:DefaultMasterPort unless
// other groups are added.
func NewSentinelBuilder() *SentinelBuilder {
	return &SentinelBuilder{
		common:          newCommon(executable.SentinelResolver()),
		bind:            DefaultHost,
		port:            DefaultSentinelPort,
		masterHost:      DefaultHost,
		masterPort:      DefaultMasterPort,
		masterName:      DefaultMasterName,
		quorum:          DefaultQuorum,
		downAfter:       DefaultDownAfter,
		failoverTimeout: DefaultFailoverTimeout,
		parallelSyncs:   DefaultParallelSyncs,
	}
}

// NewSentinel builds a sentinel on port watching a master on masterPort.
func NewSentinel(ctx context.Context, port, masterPort int) (*supervisor.Instance, error) {
	return NewSentinelBuilder().Port(port).MasterPort(masterPort).Build(ctx)
}

// WithResolver sets the executable resolver.
func (b *SentinelBuilder) WithResolver(r *executable.Resolver) *SentinelBuilder {
	b.resolver = r
	return b
}

// WithRegistry sets where instance stop hooks and config cleanup go.
func (b *SentinelBuilder) WithRegistry(reg *shutdown.Registry) *SentinelBuilder {
	b.registry = reg
	return b
}

// WithOptions adds supervisor options applied to every built instance.
func (b *SentinelBuilder) WithOptions(opts ...supervisor.Option) *SentinelBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Bind sets the listen address written to the generated config.
func (b *SentinelBuilder) Bind(host string) *SentinelBuilder {
	b.bind = host
	return b
}

// Port sets the sentinel port.
func (b *SentinelBuilder) Port(port int) *SentinelBuilder {
	if !validPort(port) {
		b.fail(invalidPort("sentinel port", port))
		return b
	}
	b.port = port
	return b
}

// MasterHost sets the host used by monitor stanzas.
func (b *SentinelBuilder) MasterHost(host string) *SentinelBuilder {
	b.masterHost = host
	return b
}

// MasterPort sets the port of the default replication group.
func (b *SentinelBuilder) MasterPort(port int) *SentinelBuilder {
	if !validPort(port) {
		b.fail(invalidPort("master port", port))
		return b
	}
	b.masterPort = port
	return b
}

// MasterName sets the name of the default replication group.
func (b *SentinelBuilder) MasterName(name string) *SentinelBuilder {
	b.masterName = name
	return b
}

// QuorumSize sets how many sentinels must agree a master is down.
func (b *SentinelBuilder) QuorumSize(quorum int) *SentinelBuilder {
	if quorum < 1 {
		b.fail(rediserr.Build("Quorum must be at least 1", nil).WithContext("quorum", quorum))
		return b
	}
	b.quorum = quorum
	return b
}

// DownAfter sets how long a master may be unreachable before it is considered down.
func (b *SentinelBuilder) DownAfter(d time.Duration) *SentinelBuilder {
	b.downAfter = d
	return b
}

// FailoverTimeout sets the failover timeout.
func (b *SentinelBuilder) FailoverTimeout(d time.Duration) *SentinelBuilder {
	b.failoverTimeout = d
	return b
}

// ParallelSyncs sets how many replicas resync with a new master at once.
func (b *SentinelBuilder) ParallelSyncs(n int) *SentinelBuilder {
	b.parallelSyncs = n
	return b
}

// AddDefaultReplicationGroup monitors the configured master name and port.
func (b *SentinelBuilder) AddDefaultReplicationGroup() *SentinelBuilder {
	return b.AddReplicationGroup(b.masterName, b.masterPort)
}

// AddReplicationGroup monitors masterName on masterPort.
func (b *SentinelBuilder) AddReplicationGroup(masterName string, masterPort int) *SentinelBuilder {
	return b.Monitor(Monitor{MasterName: masterName, Port: masterPort})
}

// Monitor adds a fully specified monitor stanza.
func (b *SentinelBuilder) Monitor(m Monitor) *SentinelBuilder {
	if m.MasterName == "" {
		b.fail(rediserr.Build("Replication group needs a master name", nil))
		return b
	}
	if !validPort(m.Port) {
		b.fail(invalidPort("master port", m.Port))
		return b
	}
	b.monitors = append(b.monitors, m)
	return b
}

// Setting adds a raw sentinel config line.
func (b *SentinelBuilder) Setting(line string) *SentinelBuilder {
	if err := b.conf.add(line); err != nil {
		b.fail(err)
	}
	return b
}

// ConfigFile uses an existing sentinel.conf. Sentinel rewrites the file, so
// it must be writable.
func (b *SentinelBuilder) ConfigFile(path string) *SentinelBuilder {
	if err := b.conf.setFile(path); err != nil {
		b.fail(err)
	}
	return b
}

// Reset clears settings, config file, monitor stanzas and any recorded
// error.
func (b *SentinelBuilder) Reset() *SentinelBuilder {
	b.conf.reset()
	b.monitors = nil
	b.err = nil
	return b
}

// Monitors returns the stanzas Build would write, with defaults applied. The
// default group is left out when a Setting already declares a monitor.
func (b *SentinelBuilder) Monitors() []Monitor {
	monitors := b.monitors
	if len(monitors) == 0 && !b.monitorInSettings() {
		monitors = []Monitor{{MasterName: b.masterName, Port: b.masterPort}}
	}

	out := make([]Monitor, 0, len(monitors))
	for _, m := range monitors {
		if m.Host == "" {
			m.Host = b.masterHost
		}
		if m.Quorum == 0 {
			m.Quorum = b.quorum
		}
		if m.DownAfter == 0 {
			m.DownAfter = b.downAfter
		}
		if m.FailoverTimeout == 0 {
			m.FailoverTimeout = b.failoverTimeout
		}
		if m.ParallelSyncs == 0 {
			m.ParallelSyncs = b.parallelSyncs
		}
		out = append(out, m)
	}
	return out
}

func (b *SentinelBuilder) monitorInSettings() bool {
	for _, line := range b.conf.lines {
		if strings.HasPrefix(strings.Join(strings.Fields(line), " "), "sentinel monitor ") {
			return true
		}
	}
	return false
}

// Build resolves the executable, writes the config and returns an idle
// instance.
func (b *SentinelBuilder) Build(ctx context.Context) (*supervisor.Instance, error) {
	spec, err := b.Spec(ctx)
	if err != nil {
		return nil, err
	}
	return b.instance(spec), nil
}

// Spec is Build without the supervisor.
func (b *SentinelBuilder) Spec(ctx context.Context) (*supervisor.InstanceSpec, error) {
	if b.err != nil {
		return nil, b.err
	}

	exe, err := b.resolve(ctx, supervisor.SentinelRole)
	if err != nil {
		return nil, err
	}

	conf := b.conf.configFile
	if conf == "" {
		var lines []string
		for _, m := range b.Monitors() {
			lines = append(lines, m.lines()...)
		}
		lines = append(lines, b.conf.lines...)
		lines = append(lines, "bind "+b.bind, "port "+strconv.Itoa(b.port))

		conf, err = writeConfig(b.registry, "sentinel", b.port, lines)
		if err != nil {
			return nil, err
		}
	}

	args := []string{
		exe, conf,
		"--port", strconv.Itoa(b.port),
		"--loglevel", "debug",
		"--daemonize", "no",
		"--protected-mode", "no",
	}

	return &supervisor.InstanceSpec{
		Role:     supervisor.SentinelRole,
		Argv:     args,
		Assigned: supervisor.PortAssignment{Port: b.port},
	}, nil
}
