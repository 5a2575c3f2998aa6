package topology

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
)

// minMasters is the smallest cluster redis-cli agrees to create.
const minMasters = 3

// Cluster is a set of cluster-enabled servers joined by a one-shot
// redis-cli run.
type Cluster struct {
	servers []Redis
	client  Runner
	logger  *slog.Logger

	mu     sync.Mutex
	formed bool
}

// NewCluster assembles a cluster from already built members.
func NewCluster(servers []Redis, client Runner) *Cluster {
	return &Cluster{
		servers: servers,
		client:  client,
		logger:  slog.Default().With("component", "topology", "topology", "cluster"),
	}
}

// Start starts every node, then forms the cluster. If forming fails the nodes
// are stopped again.
//
// Nodes keep their cluster config file across restarts, so once the cluster
// has formed a later Start only restarts the nodes and lets them rejoin;
// running the forming client again would fail on non-empty nodes.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := startAll(ctx, c.logger, c.servers); err != nil {
		return err
	}
	if c.formed {
		c.logger.Info("cluster restarted from saved node config", "nodes", c.Ports())
		return nil
	}

	if err := c.client.Run(ctx); err != nil {
		c.logger.Error("cluster creation failed, stopping nodes", "error", err)
		if stopErr := stopAll(c.servers); stopErr != nil {
			c.logger.Warn("cleanup after failed cluster creation was incomplete", "error", stopErr)
		}
		return fmt.Errorf("create cluster: %w", err)
	}
	c.formed = true

	c.logger.Info("cluster formed", "nodes", c.Ports())
	return nil
}

// Stop stops every node and joins the errors.
func (c *Cluster) Stop() error {
	return stopAll(c.servers)
}

// IsActive reports whether every node is active.
func (c *Cluster) IsActive() bool {
	return allActive(c.servers)
}

// Ports returns the node ports, sorted.
func (c *Cluster) Ports() []int {
	return collectPorts(c.servers, Redis.Ports)
}

// TLSPorts returns the node TLS ports, sorted.
func (c *Cluster) TLSPorts() []int {
	return collectPorts(c.servers, Redis.TLSPorts)
}

// Servers returns the nodes.
func (c *Cluster) Servers() []Redis {
	return append([]Redis(nil), c.servers...)
}

// ClusterBuilder assembles a redis cluster.
type ClusterBuilder struct {
	serverBuilder  *embedded.ServerBuilder
	clientBuilder  *embedded.ClusterClientBuilder
	host           string
	nodePorts      []int
	replicas       int
	serverSettings []string
	serverTmpl     *template
	err            error
}

// NewClusterBuilder returns a builder with default server and client
// templates on DefaultHost.
func NewClusterBuilder() *ClusterBuilder {
	return &ClusterBuilder{
		serverBuilder: embedded.NewServerBuilder(),
		clientBuilder: embedded.NewClusterClientBuilder(),
		host:          embedded.DefaultHost,
	}
}

// WithServerBuilder sets the template used for every node.
func (b *ClusterBuilder) WithServerBuilder(sb *embedded.ServerBuilder) *ClusterBuilder {
	b.serverBuilder = sb
	return b
}

// WithClientBuilder sets the template for the forming redis-cli run.
func (b *ClusterBuilder) WithClientBuilder(cb *embedded.ClusterClientBuilder) *ClusterBuilder {
	b.clientBuilder = cb
	return b
}

// Host sets the address nodes bind to and redis-cli connects to.
func (b *ClusterBuilder) Host(host string) *ClusterBuilder {
	b.host = host
	return b
}

// NodePorts adds node ports in order, ignoring duplicates.
func (b *ClusterBuilder) NodePorts(list ...int) *ClusterBuilder {
	for _, p := range list {
		if !slices.Contains(b.nodePorts, p) {
			b.nodePorts = append(b.nodePorts, p)
		}
	}
	return b
}

// ClusterReplicas sets how many replicas each master gets.
func (b *ClusterBuilder) ClusterReplicas(n int) *ClusterBuilder {
	if n < 0 && b.err == nil {
		b.err = rediserr.Build("Cluster replicas cannot be negative", nil).WithContext("replicas", n)
	}
	b.replicas = n
	return b
}

// ServerSetting adds a config line to every node.
func (b *ClusterBuilder) ServerSetting(line string) *ClusterBuilder {
	b.serverSettings = append(b.serverSettings, line)
	return b
}

// Build builds every node and the forming client. Nothing is started.
func (b *ClusterBuilder) Build(ctx context.Context) (*Cluster, error) {
	if b.err != nil {
		return nil, b.err
	}
	if need := minMasters * (b.replicas + 1); len(b.nodePorts) < need {
		return nil, rediserr.Build("Not enough nodes for a cluster", nil).
			WithContext("nodes", len(b.nodePorts)).
			WithContext("replicas", b.replicas).
			WithSuggestion(fmt.Sprintf("A cluster needs at least %d masters; provide %d node ports", minMasters, need))
	}

	if b.serverTmpl == nil {
		tmpl, err := captureTemplate("server", b.serverBuilder)
		if err != nil {
			return nil, err
		}
		b.serverTmpl = tmpl
	}
	if err := b.clientBuilder.Err(); err != nil {
		return nil, fmt.Errorf("cluster client builder: %w", err)
	}

	servers := make([]Redis, 0, len(b.nodePorts))
	for _, port := range b.nodePorts {
		sb := b.serverBuilder.Reset().Port(port).Bind(b.host).ClusterEnabled(true)
		b.serverTmpl.apply(func(path string) { sb.ConfigFile(path) }, func(line string) { sb.Setting(line) })
		for _, line := range b.serverSettings {
			sb.Setting(line)
		}
		node, err := sb.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build cluster node %d: %w", port, err)
		}
		servers = append(servers, node)
	}

	client, err := b.clientBuilder.Reset().
		Host(b.host).
		Ports(b.nodePorts...).
		ClusterReplicas(b.replicas).
		Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build cluster client: %w", err)
	}

	return NewCluster(servers, client), nil
}
