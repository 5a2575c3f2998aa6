package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/supervisor"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

// writeManifest lays out fake binaries next to a manifest and loads it.
func writeManifest(t *testing.T, body string) *Manifest {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	for _, name := range []string{"redis-server", "redis-sentinel", "redis-cli"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", name), []byte("#!/bin/sh\n"), 0o755))
	}

	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	m, err := Load(path)
	require.NoError(t, err)
	return m
}

func testRegistry(t *testing.T) *shutdown.Registry {
	t.Helper()
	reg := shutdown.NewRegistry()
	t.Cleanup(func() { _ = reg.Run() })
	return reg
}

func joinedArgs(r topology.Redis) string {
	return strings.Join(r.(*supervisor.Instance).Args(), " ")
}

func TestBuildStandalone(t *testing.T) {
	m := writeManifest(t, `
name: pair
executables:
  server: bin/redis-server
servers:
  - port: 6390
    settings: ["maxmemory 64mb"]
  - port: 6391
    replica_of: 6390
`)

	r, err := Build(context.Background(), m, WithRegistry(testRegistry(t)))
	require.NoError(t, err)

	group, ok := r.(*topology.Group)
	require.True(t, ok)
	assert.Equal(t, []int{6390, 6391}, group.Ports())

	members := group.Members()
	require.Len(t, members, 2)
	assert.True(t, strings.HasPrefix(joinedArgs(members[0]), filepath.Join(filepath.Dir(m.ManifestPath()), "bin", "redis-server")))
	assert.NotContains(t, joinedArgs(members[0]), "--replicaof")
	assert.Contains(t, joinedArgs(members[1]), "--replicaof 127.0.0.1 6390")

	conf, err := os.ReadFile(members[0].(*supervisor.Instance).Args()[1])
	require.NoError(t, err)
	assert.Contains(t, string(conf), "maxmemory 64mb")
}

func TestBuildSentinel(t *testing.T) {
	m := writeManifest(t, `
name: cache
mode: sentinel
executables:
  server: bin/redis-server
  sentinel: bin/redis-sentinel
sentinel:
  count: 2
  quorum: 2
  starting_port: 26400
  server_starting_port: 6500
  down_after: 5s
  groups:
    - name: mymaster
      replicas: 1
`)

	r, err := Build(context.Background(), m, WithRegistry(testRegistry(t)))
	require.NoError(t, err)

	sg, ok := r.(*topology.SentinelGroup)
	require.True(t, ok)
	assert.Equal(t, []int{26400, 26401}, sg.SentinelPorts())
	assert.Equal(t, []int{6500, 6501}, sg.ServerPorts())

	conf, err := os.ReadFile(sg.Sentinels()[0].(*supervisor.Instance).Args()[1])
	require.NoError(t, err)
	assert.Contains(t, string(conf), "sentinel monitor mymaster 127.0.0.1 6500 2")
	assert.Contains(t, string(conf), "sentinel down-after-milliseconds mymaster 5000")
}

func TestBuildCluster(t *testing.T) {
	m := writeManifest(t, `
name: shards
mode: cluster
executables:
  server: bin/redis-server
  cli: bin/redis-cli
cluster:
  ports: [7100, 7101, 7102]
`)

	r, err := Build(context.Background(), m, WithRegistry(testRegistry(t)))
	require.NoError(t, err)

	cluster, ok := r.(*topology.Cluster)
	require.True(t, ok)
	assert.Equal(t, []int{7100, 7101, 7102}, cluster.Ports())
	for _, node := range cluster.Servers() {
		assert.Contains(t, joinedArgs(node), "--cluster-enabled yes")
	}
}

func TestBuildMissingExecutable(t *testing.T) {
	m := writeManifest(t, `
name: broken
executables:
  server: bin/does-not-exist
servers:
  - port: 6390
`)

	_, err := Build(context.Background(), m, WithRegistry(testRegistry(t)))
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeExecutableResolution))
}

func TestBuildRejectsInvalidManifest(t *testing.T) {
	_, err := Build(context.Background(), &Manifest{Name: "x", Mode: ModeCluster})
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}
