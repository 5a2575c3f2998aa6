// Package manifest describes redis topologies in YAML and builds them.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

// Mode selects the kind of topology a manifest describes.
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeSentinel   Mode = "sentinel"
	ModeCluster    Mode = "cluster"
)

// Manifest is the declarative form of a topology.
//
//	name: cache
//	mode: sentinel
//	sentinel:
//	  count: 3
//	  quorum: 2
//	  groups:
//	    - name: mymaster
//	      replicas: 1
type Manifest struct {
	// Name labels the topology in logs and summaries
	Name string `yaml:"name"`

	// Mode is one of standalone, sentinel or cluster
	Mode Mode `yaml:"mode"`

	// Bind is the listen address of every instance
	Bind string `yaml:"bind"`

	// Executables overrides the bundled binaries (relative to the manifest file)
	Executables Executables `yaml:"executables"`

	// Servers lists standalone servers
	Servers []Server `yaml:"servers"`

	Sentinel *Sentinel `yaml:"sentinel"`
	Cluster  *Cluster  `yaml:"cluster"`

	// Internal: absolute path to the manifest file (populated during load)
	manifestPath string `yaml:"-"`
}

// Executables holds binary path overrides.
type Executables struct {
	Server   string `yaml:"server"`
	Sentinel string `yaml:"sentinel"`
	CLI      string `yaml:"cli"`
}

// Server is one standalone redis-server.
type Server struct {
	Port       int      `yaml:"port"`
	TLSPort    int      `yaml:"tls_port"`
	ReplicaOf  int      `yaml:"replica_of"`
	Settings   []string `yaml:"settings"`
	ConfigFile string   `yaml:"config_file"`
}

// Sentinel describes replication groups watched by sentinels.
type Sentinel struct {
	Count              int           `yaml:"count"`
	StartingPort       int           `yaml:"starting_port"`
	ServerStartingPort int           `yaml:"server_starting_port"`
	ServerPorts        []int         `yaml:"server_ports"`
	ServerSettings     []string      `yaml:"server_settings"`
	Quorum             int           `yaml:"quorum"`
	DownAfter          time.Duration `yaml:"down_after"`
	FailoverTimeout    time.Duration `yaml:"failover_timeout"`
	ParallelSyncs      int           `yaml:"parallel_syncs"`
	Groups             []Group       `yaml:"groups"`
	StartOrder         string        `yaml:"start_order"`
}

// Group is one master and its replicas.
type Group struct {
	Name     string `yaml:"name"`
	Replicas int    `yaml:"replicas"`
}

// Cluster describes a redis cluster.
type Cluster struct {
	Ports    []int    `yaml:"ports"`
	Replicas int      `yaml:"replicas"`
	Settings []string `yaml:"settings"`
}

// Load reads, parses and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	m.manifestPath = absPath

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	return m, nil
}

// Parse decodes a manifest without validating it. A missing mode means
// standalone.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Mode == "" {
		m.Mode = ModeStandalone
	}
	return &m, nil
}

// Validate checks the manifest is buildable.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return invalid("name is required")
	}

	switch m.Mode {
	case ModeStandalone:
		return m.validateStandalone()
	case ModeSentinel:
		return m.validateSentinel()
	case ModeCluster:
		return m.validateCluster()
	default:
		return invalid(fmt.Sprintf("invalid mode: %s (must be standalone, sentinel, or cluster)", m.Mode))
	}
}

func (m *Manifest) validateStandalone() error {
	if len(m.Servers) == 0 {
		return invalid("standalone mode needs at least one server")
	}

	var seen []int
	for i, s := range m.Servers {
		if !validPort(s.Port) {
			return invalid(fmt.Sprintf("servers[%d].port must be between 1 and 65535, got: %d", i, s.Port))
		}
		if s.TLSPort != 0 && !validPort(s.TLSPort) {
			return invalid(fmt.Sprintf("servers[%d].tls_port must be between 1 and 65535, got: %d", i, s.TLSPort))
		}
		if slices.Contains(seen, s.Port) {
			return invalid(fmt.Sprintf("servers[%d].port %d is used twice", i, s.Port))
		}
		if s.ConfigFile != "" && len(s.Settings) > 0 {
			return rediserr.ConfigConflict(fmt.Sprintf("servers[%d] sets both settings and config_file", i))
		}
		seen = append(seen, s.Port)
	}

	for i, s := range m.Servers {
		if s.ReplicaOf != 0 && !slices.Contains(seen, s.ReplicaOf) {
			return invalid(fmt.Sprintf("servers[%d].replica_of %d is not a declared server port", i, s.ReplicaOf))
		}
		if s.ReplicaOf == s.Port {
			return invalid(fmt.Sprintf("servers[%d] cannot replicate itself", i))
		}
	}
	return nil
}

func (m *Manifest) validateSentinel() error {
	s := m.Sentinel
	if s == nil {
		return invalid("sentinel mode needs a sentinel section")
	}
	if s.Count < 0 {
		return invalid(fmt.Sprintf("sentinel.count cannot be negative, got: %d", s.Count))
	}
	if s.Quorum < 0 {
		return invalid(fmt.Sprintf("sentinel.quorum cannot be negative, got: %d", s.Quorum))
	}
	if len(s.Groups) == 0 {
		return invalid("sentinel.groups needs at least one replication group")
	}
	if s.ServerStartingPort != 0 && len(s.ServerPorts) > 0 {
		return rediserr.ConfigConflict("sentinel sets both server_starting_port and server_ports")
	}
	if _, err := parseStartOrder(s.StartOrder); err != nil {
		return err
	}

	var names []string
	for i, g := range s.Groups {
		if g.Name == "" {
			return invalid(fmt.Sprintf("sentinel.groups[%d].name is required", i))
		}
		if g.Replicas < 0 {
			return invalid(fmt.Sprintf("sentinel.groups[%d].replicas cannot be negative", i))
		}
		if slices.Contains(names, g.Name) {
			return invalid(fmt.Sprintf("sentinel.groups[%d].name %s is used twice", i, g.Name))
		}
		names = append(names, g.Name)
	}
	return nil
}

func (m *Manifest) validateCluster() error {
	c := m.Cluster
	if c == nil {
		return invalid("cluster mode needs a cluster section")
	}
	if c.Replicas < 0 {
		return invalid(fmt.Sprintf("cluster.replicas cannot be negative, got: %d", c.Replicas))
	}
	for i, p := range c.Ports {
		if !validPort(p) {
			return invalid(fmt.Sprintf("cluster.ports[%d] must be between 1 and 65535, got: %d", i, p))
		}
	}
	if need := 3 * (c.Replicas + 1); len(c.Ports) < need {
		return invalid(fmt.Sprintf("cluster with %d replicas needs at least %d ports, got: %d", c.Replicas, need, len(c.Ports)))
	}
	return nil
}

// ResolvePath resolves a file named in the manifest relative to the
// manifest directory.
func (m *Manifest) ResolvePath(exe string) string {
	if exe == "" || filepath.IsAbs(exe) || m.manifestPath == "" {
		return exe
	}
	return filepath.Join(filepath.Dir(m.manifestPath), exe)
}

// ManifestPath returns the absolute path to the manifest file
func (m *Manifest) ManifestPath() string {
	return m.manifestPath
}

func parseStartOrder(s string) (topology.StartOrder, error) {
	switch s {
	case "", topology.SentinelsFirst.String():
		return topology.SentinelsFirst, nil
	case topology.ServersFirst.String():
		return topology.ServersFirst, nil
	default:
		return 0, invalid(fmt.Sprintf("invalid start_order: %s (must be sentinels-first or servers-first)", s))
	}
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

func invalid(msg string) error {
	return rediserr.Build("Invalid manifest: "+msg, nil)
}
