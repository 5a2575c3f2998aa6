//go:build unix

package topology

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/platform"
	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
)

const (
	fakeServer = `#!/bin/sh
echo "* Ready to accept connections tcp"
exec sleep 30
`
	fakeSentinel = `#!/bin/sh
echo "# Sentinel ID is 0123456789abcdef"
exec sleep 30
`
	fakeCLI = `#!/bin/sh
echo ">>> Performing Cluster Check (using node $3)"
echo "[OK] All 16384 slots covered."
`
)

func scriptResolver(t *testing.T, name, body string) *executable.Resolver {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return executable.NewResolver(executable.WithPlatform(platform.UnixAMD64)).
		Override(platform.Unix, path)
}

type fakes struct {
	reg      *shutdown.Registry
	server   *embedded.ServerBuilder
	sentinel *embedded.SentinelBuilder
	client   *embedded.ClusterClientBuilder
}

func newFakes(t *testing.T) *fakes {
	t.Helper()
	reg := shutdown.NewRegistry()
	t.Cleanup(func() { _ = reg.Run() })

	opts := []supervisor.Option{
		supervisor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		supervisor.WithGracePeriod(2 * time.Second),
	}
	return &fakes{
		reg: reg,
		server: embedded.NewServerBuilder().
			WithResolver(scriptResolver(t, "redis-server", fakeServer)).
			WithRegistry(reg).WithOptions(opts...),
		sentinel: embedded.NewSentinelBuilder().
			WithResolver(scriptResolver(t, "redis-sentinel", fakeSentinel)).
			WithRegistry(reg).WithOptions(opts...),
		client: embedded.NewClusterClientBuilder().
			WithResolver(scriptResolver(t, "redis-cli", fakeCLI)).
			WithRegistry(reg).WithOptions(opts...),
	}
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestSentinelGroupBuilderPorts(t *testing.T) {
	f := newFakes(t)

	sg, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		ReplicationGroup("mymaster", 2).
		Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{26379}, sg.SentinelPorts())
	assert.Equal(t, []int{6379, 6380, 6381}, sg.ServerPorts())
	assert.Equal(t, []int{6379, 6380, 6381, 26379}, sg.Ports())
	assert.Equal(t, []ReplicationGroup{
		{MasterName: "mymaster", MasterPort: 6379, ReplicaPorts: []int{6380, 6381}},
	}, sg.ReplicationGroups())

	servers := sg.Servers()
	require.Len(t, servers, 3)
	master := servers[0].(*supervisor.Instance)
	assert.Empty(t, argValue(master.Args(), "--replicaof"))
	for _, r := range servers[1:] {
		args := r.(*supervisor.Instance).Args()
		assert.Contains(t, strings.Join(args, " "), "--replicaof 127.0.0.1 6379")
	}
}

func TestSentinelGroupBuilderMultipleGroups(t *testing.T) {
	f := newFakes(t)

	sg, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		SentinelCount(3).
		QuorumSize(2).
		SentinelStartingPort(26400).
		ServerPortsFrom(6500, 6501, 6502, 6503).
		ReplicationGroup("alpha", 1).
		ReplicationGroup("beta", 1).
		Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{26400, 26401, 26402}, sg.SentinelPorts())
	assert.Equal(t, []ReplicationGroup{
		{MasterName: "alpha", MasterPort: 6500, ReplicaPorts: []int{6501}},
		{MasterName: "beta", MasterPort: 6502, ReplicaPorts: []int{6503}},
	}, sg.ReplicationGroups())

	for _, s := range sg.Sentinels() {
		conf, err := os.ReadFile(s.(*supervisor.Instance).Args()[1])
		require.NoError(t, err)
		assert.Contains(t, string(conf), "sentinel monitor alpha 127.0.0.1 6500 2")
		assert.Contains(t, string(conf), "sentinel monitor beta 127.0.0.1 6502 2")
	}
}

func TestSentinelGroupBuilderPortsExhausted(t *testing.T) {
	f := newFakes(t)

	_, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		ServerPortsFrom(6500, 6501).
		ReplicationGroup("mymaster", 2).
		Build(context.Background())
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodePortsExhausted))
}

func TestSentinelGroupBuilderValidation(t *testing.T) {
	_, err := NewSentinelGroupBuilder().Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild), "no replication group")

	_, err = NewSentinelGroupBuilder().SentinelCount(0).ReplicationGroup("m", 0).Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))

	_, err = NewSentinelGroupBuilder().ReplicationGroup("m", 0).ReplicationGroup("m", 1).Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))

	_, err = NewSentinelGroupBuilder().ReplicationGroup("m", -1).Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}

func TestSentinelGroupBuilderResolutionFailure(t *testing.T) {
	f := newFakes(t)
	broken := embedded.NewServerBuilder().
		WithRegistry(f.reg).
		WithResolver(executable.ServerResolver(executable.WithPlatform(platform.UnixAMD64)).
			Override(platform.Unix, "/some/non/existent/path"))

	_, err := NewSentinelGroupBuilder().
		WithServerBuilder(broken).
		WithSentinelBuilder(f.sentinel).
		ReplicationGroup("mymaster", 1).
		Build(context.Background())
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeExecutableResolution))
}

func TestSentinelGroupLifecycle(t *testing.T) {
	f := newFakes(t)

	sg, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		EphemeralServerPorts().
		EphemeralSentinelPorts().
		ReplicationGroup("mymaster", 1).
		Build(context.Background())
	require.NoError(t, err)

	require.NoError(t, sg.Start(context.Background()))
	assert.True(t, sg.IsActive())
	require.NoError(t, sg.Stop())
	assert.False(t, sg.IsActive())
}

func TestClusterBuilderAndLifecycle(t *testing.T) {
	f := newFakes(t)

	cluster, err := NewClusterBuilder().
		WithServerBuilder(f.server).
		WithClientBuilder(f.client).
		NodePorts(7000, 7001, 7002).
		Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{7000, 7001, 7002}, cluster.Ports())
	for _, node := range cluster.Servers() {
		args := strings.Join(node.(*supervisor.Instance).Args(), " ")
		assert.Contains(t, args, "--cluster-enabled yes")
	}

	require.NoError(t, cluster.Start(context.Background()))
	assert.True(t, cluster.IsActive())
	require.NoError(t, cluster.Stop())
	assert.False(t, cluster.IsActive())
}

func TestClusterBuilderValidation(t *testing.T) {
	f := newFakes(t)

	_, err := NewClusterBuilder().
		WithServerBuilder(f.server).
		WithClientBuilder(f.client).
		NodePorts(7000, 7001).
		Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))

	_, err = NewClusterBuilder().
		WithServerBuilder(f.server).
		WithClientBuilder(f.client).
		NodePorts(7000, 7001, 7002).
		ClusterReplicas(1).
		Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild), "replicas need six nodes")

	_, err = NewClusterBuilder().ClusterReplicas(-1).NodePorts(1, 2, 3).Build(context.Background())
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}

func TestSentinelGroupBuilderReportsTemplateError(t *testing.T) {
	f := newFakes(t)
	f.server.ConfigFile("/etc/redis/redis.conf").Setting("maxmemory 64mb")

	sg, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		ReplicationGroup("mymaster", 1).
		Build(context.Background())
	require.Error(t, err)
	assert.Nil(t, sg)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeConfigConflict))
}

func TestSentinelGroupBuilderReportsSentinelTemplateError(t *testing.T) {
	f := newFakes(t)
	f.sentinel.Port(70000)

	_, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		ReplicationGroup("mymaster", 0).
		Build(context.Background())
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}

func TestSentinelGroupBuilderKeepsTemplateSettings(t *testing.T) {
	f := newFakes(t)
	f.server.Setting("maxmemory 64mb")
	f.sentinel.Setting("sentinel resolve-hostnames yes")

	b := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		ServerSetting("maxmemory-policy allkeys-lru").
		ReplicationGroup("mymaster", 1)

	for build := 0; build < 2; build++ {
		sg, err := b.Build(context.Background())
		require.NoError(t, err)

		for _, s := range sg.Servers() {
			conf, err := os.ReadFile(s.(*supervisor.Instance).Args()[1])
			require.NoError(t, err)
			assert.Equal(t, 1, strings.Count(string(conf), "maxmemory 64mb"), "build %d", build)
			assert.Equal(t, 1, strings.Count(string(conf), "maxmemory-policy allkeys-lru"), "build %d", build)
		}
		for _, s := range sg.Sentinels() {
			conf, err := os.ReadFile(s.(*supervisor.Instance).Args()[1])
			require.NoError(t, err)
			assert.Equal(t, 1, strings.Count(string(conf), "sentinel resolve-hostnames yes"), "build %d", build)
		}
	}
}

func TestSentinelGroupBuilderTemplateConfigFileConflictsWithServerSetting(t *testing.T) {
	f := newFakes(t)
	f.server.ConfigFile("/etc/redis/redis.conf")

	_, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		ServerSetting("maxmemory 64mb").
		ReplicationGroup("mymaster", 0).
		Build(context.Background())
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeConfigConflict))
}

func TestSentinelGroupBuilderHostSetsBind(t *testing.T) {
	f := newFakes(t)

	sg, err := NewSentinelGroupBuilder().
		WithServerBuilder(f.server).
		WithSentinelBuilder(f.sentinel).
		Host("127.0.0.2").
		ReplicationGroup("mymaster", 1).
		Build(context.Background())
	require.NoError(t, err)

	for _, member := range append(sg.Servers(), sg.Sentinels()...) {
		conf, err := os.ReadFile(member.(*supervisor.Instance).Args()[1])
		require.NoError(t, err)
		assert.Contains(t, string(conf), "bind 127.0.0.2")
	}
	replica := strings.Join(sg.Servers()[1].(*supervisor.Instance).Args(), " ")
	assert.Contains(t, replica, "--replicaof 127.0.0.2 6379")
}

func TestClusterBuilderReportsTemplateErrors(t *testing.T) {
	f := newFakes(t)
	f.server.Setting("maxmemory 64mb").ConfigFile("/etc/redis/redis.conf")

	_, err := NewClusterBuilder().
		WithServerBuilder(f.server).
		WithClientBuilder(f.client).
		NodePorts(7000, 7001, 7002).
		Build(context.Background())
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeConfigConflict))

	f = newFakes(t)
	f.client.Ports(0)

	_, err = NewClusterBuilder().
		WithServerBuilder(f.server).
		WithClientBuilder(f.client).
		NodePorts(7000, 7001, 7002).
		Build(context.Background())
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}

func TestClusterBuilderKeepsTemplateSettingsAndHost(t *testing.T) {
	f := newFakes(t)
	f.server.Setting("maxmemory 64mb")

	cluster, err := NewClusterBuilder().
		WithServerBuilder(f.server).
		WithClientBuilder(f.client).
		Host("127.0.0.2").
		NodePorts(7000, 7001, 7002).
		Build(context.Background())
	require.NoError(t, err)

	for _, node := range cluster.Servers() {
		conf, err := os.ReadFile(node.(*supervisor.Instance).Args()[1])
		require.NoError(t, err)
		assert.Contains(t, string(conf), "maxmemory 64mb")
		assert.Contains(t, string(conf), "bind 127.0.0.2")
	}
}
