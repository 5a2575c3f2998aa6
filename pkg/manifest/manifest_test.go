package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

const sentinelManifest = `
name: cache
mode: sentinel
bind: 127.0.0.1
executables:
  server: bin/redis-server
  sentinel: /opt/redis/bin/redis-sentinel
sentinel:
  count: 3
  quorum: 2
  starting_port: 26400
  server_ports: [6500, 6501, 6502]
  down_after: 5s
  failover_timeout: 1m
  parallel_syncs: 2
  start_order: servers-first
  groups:
    - name: alpha
      replicas: 1
    - name: beta
      replicas: 0
`

func TestParseSentinel(t *testing.T) {
	m, err := Parse([]byte(sentinelManifest))
	require.NoError(t, err)

	assert.Equal(t, "cache", m.Name)
	assert.Equal(t, ModeSentinel, m.Mode)
	assert.Equal(t, "bin/redis-server", m.Executables.Server)
	require.NotNil(t, m.Sentinel)
	assert.Equal(t, 3, m.Sentinel.Count)
	assert.Equal(t, []int{6500, 6501, 6502}, m.Sentinel.ServerPorts)
	assert.Equal(t, 5*time.Second, m.Sentinel.DownAfter)
	assert.Equal(t, time.Minute, m.Sentinel.FailoverTimeout)
	assert.Equal(t, []Group{{Name: "alpha", Replicas: 1}, {Name: "beta"}}, m.Sentinel.Groups)
	assert.NoError(t, m.Validate())

	order, err := parseStartOrder(m.Sentinel.StartOrder)
	require.NoError(t, err)
	assert.Equal(t, topology.ServersFirst, order)
}

func TestParseDefaultsToStandalone(t *testing.T) {
	m, err := Parse([]byte("name: single\nservers:\n  - port: 6379\n"))
	require.NoError(t, err)
	assert.Equal(t, ModeStandalone, m.Mode)
	assert.NoError(t, m.Validate())
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		wantErr  bool
		code     rediserr.ErrorCode
	}{
		{
			name:     "missing name",
			manifest: Manifest{Mode: ModeStandalone, Servers: []Server{{Port: 6379}}},
			wantErr:  true,
		},
		{
			name:     "unknown mode",
			manifest: Manifest{Name: "x", Mode: "ring"},
			wantErr:  true,
		},
		{
			name:     "standalone without servers",
			manifest: Manifest{Name: "x", Mode: ModeStandalone},
			wantErr:  true,
		},
		{
			name:     "port out of range",
			manifest: Manifest{Name: "x", Mode: ModeStandalone, Servers: []Server{{Port: 70000}}},
			wantErr:  true,
		},
		{
			name:     "duplicate port",
			manifest: Manifest{Name: "x", Mode: ModeStandalone, Servers: []Server{{Port: 6379}, {Port: 6379}}},
			wantErr:  true,
		},
		{
			name: "settings and config file",
			manifest: Manifest{Name: "x", Mode: ModeStandalone, Servers: []Server{
				{Port: 6379, Settings: []string{"maxmemory 64mb"}, ConfigFile: "redis.conf"},
			}},
			wantErr: true,
			code:    rediserr.ErrorCodeConfigConflict,
		},
		{
			name: "replica of unknown port",
			manifest: Manifest{Name: "x", Mode: ModeStandalone, Servers: []Server{
				{Port: 6379}, {Port: 6380, ReplicaOf: 6400},
			}},
			wantErr: true,
		},
		{
			name: "replica of declared port",
			manifest: Manifest{Name: "x", Mode: ModeStandalone, Servers: []Server{
				{Port: 6379}, {Port: 6380, ReplicaOf: 6379},
			}},
		},
		{
			name:     "sentinel without section",
			manifest: Manifest{Name: "x", Mode: ModeSentinel},
			wantErr:  true,
		},
		{
			name:     "sentinel without groups",
			manifest: Manifest{Name: "x", Mode: ModeSentinel, Sentinel: &Sentinel{Count: 1}},
			wantErr:  true,
		},
		{
			name: "sentinel duplicate group",
			manifest: Manifest{Name: "x", Mode: ModeSentinel, Sentinel: &Sentinel{
				Groups: []Group{{Name: "m"}, {Name: "m"}},
			}},
			wantErr: true,
		},
		{
			name: "sentinel bad start order",
			manifest: Manifest{Name: "x", Mode: ModeSentinel, Sentinel: &Sentinel{
				Groups: []Group{{Name: "m"}}, StartOrder: "random",
			}},
			wantErr: true,
		},
		{
			name: "sentinel conflicting server ports",
			manifest: Manifest{Name: "x", Mode: ModeSentinel, Sentinel: &Sentinel{
				Groups: []Group{{Name: "m"}}, ServerStartingPort: 6500, ServerPorts: []int{6500},
			}},
			wantErr: true,
			code:    rediserr.ErrorCodeConfigConflict,
		},
		{
			name:     "cluster too small",
			manifest: Manifest{Name: "x", Mode: ModeCluster, Cluster: &Cluster{Ports: []int{7000, 7001}}},
			wantErr:  true,
		},
		{
			name: "cluster replicas need six nodes",
			manifest: Manifest{Name: "x", Mode: ModeCluster, Cluster: &Cluster{
				Ports: []int{7000, 7001, 7002, 7003}, Replicas: 1,
			}},
			wantErr: true,
		},
		{
			name:     "cluster ok",
			manifest: Manifest{Name: "x", Mode: ModeCluster, Cluster: &Cluster{Ports: []int{7000, 7001, 7002}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.manifest.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			code := tt.code
			if code == "" {
				code = rediserr.ErrorCodeBuild
			}
			assert.True(t, rediserr.IsCode(err, code), "got %v", err)
		})
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sentinelManifest), 0o644))

	m, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, m.ManifestPath())
	assert.Equal(t, filepath.Join(dir, "bin", "redis-server"), m.ResolvePath(m.Executables.Server))
	assert.Equal(t, "/opt/redis/bin/redis-sentinel", m.ResolvePath(m.Executables.Sentinel))
	assert.Empty(t, m.ResolvePath(""))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nmode: sentinel\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}
