package embedded

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"

	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
)

// ClusterClientBuilder configures the one-shot `redis-cli --cluster create`
// run that joins cluster-enabled servers into a cluster.
type ClusterClientBuilder struct {
	common

	host     string
	ports    []int
	replicas int
}

// NewClusterClientBuilder returns a builder for nodes on DefaultHost.
func NewClusterClientBuilder() *ClusterClientBuilder {
	return &ClusterClientBuilder{
		common: newCommon(executable.CLIResolver()),
		host:   DefaultHost,
	}
}

// WithResolver sets the redis-cli resolver.
func (b *ClusterClientBuilder) WithResolver(r *executable.Resolver) *ClusterClientBuilder {
	b.resolver = r
	return b
}

// WithRegistry sets where the stop hook goes.
func (b *ClusterClientBuilder) WithRegistry(reg *shutdown.Registry) *ClusterClientBuilder {
	b.registry = reg
	return b
}

// WithOptions adds supervisor options applied to the built instance.
func (b *ClusterClientBuilder) WithOptions(opts ...supervisor.Option) *ClusterClientBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Host sets the address of the nodes.
func (b *ClusterClientBuilder) Host(host string) *ClusterClientBuilder {
	b.host = host
	return b
}

// Ports adds node ports. Duplicates are ignored.
func (b *ClusterClientBuilder) Ports(ports ...int) *ClusterClientBuilder {
	for _, port := range ports {
		if !validPort(port) || port == 0 {
			b.fail(invalidPort("node port", port))
			return b
		}
		if slices.Contains(b.ports, port) {
			continue
		}
		b.ports = append(b.ports, port)
	}
	return b
}

// ClusterReplicas sets how many replicas each master gets.
func (b *ClusterClientBuilder) ClusterReplicas(n int) *ClusterClientBuilder {
	if n < 0 {
		b.fail(rediserr.Build("Cluster replicas cannot be negative", nil).WithContext("replicas", n))
		return b
	}
	b.replicas = n
	return b
}

// Reset clears node ports, replicas and any recorded error.
func (b *ClusterClientBuilder) Reset() *ClusterClientBuilder {
	b.conf.reset()
	b.ports = nil
	b.replicas = 0
	b.err = nil
	return b
}

// Build returns an idle one-shot instance; call Run on it.
func (b *ClusterClientBuilder) Build(ctx context.Context) (*supervisor.Instance, error) {
	spec, err := b.Spec(ctx)
	if err != nil {
		return nil, err
	}
	return b.instance(spec), nil
}

// Spec is Build without the supervisor.
func (b *ClusterClientBuilder) Spec(ctx context.Context) (*supervisor.InstanceSpec, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.ports) == 0 {
		return nil, rediserr.Build("Cluster needs at least one node port", nil)
	}

	exe, err := b.resolve(ctx, supervisor.ClusterClientRole)
	if err != nil {
		return nil, err
	}

	args := []string{exe, "--cluster", "create"}
	for _, port := range b.ports {
		args = append(args, net.JoinHostPort(b.host, strconv.Itoa(port)))
	}
	if b.replicas > 0 {
		args = append(args, "--cluster-replicas", fmt.Sprint(b.replicas))
	}
	args = append(args, "--cluster-yes")

	return &supervisor.InstanceSpec{
		Role: supervisor.ClusterClientRole,
		Argv: args,
	}, nil
}
