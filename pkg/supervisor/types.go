package supervisor

import (
	"regexp"
	"sort"
)

// State represents the lifecycle state of a supervised instance
type State int

const (
	// StateIdle - built but never started, or a start attempt failed
	StateIdle State = iota
	// StateStarting - process launched, waiting for the readiness line
	StateStarting
	// StateReady - readiness line observed
	StateReady
	// StateStopped - process terminated and reaped
	StateStopped
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Role names a kind of redis process and the output line that marks it ready.
type Role struct {
	Name  string
	Ready *regexp.Regexp
}

var (
	// ServerRole is a redis-server instance.
	ServerRole = Role{Name: "redis-server", Ready: regexp.MustCompile(`(R|r)eady to accept connections`)}
	// SentinelRole is a redis-sentinel instance.
	SentinelRole = Role{Name: "redis-sentinel", Ready: regexp.MustCompile(`Sentinel (runid|ID) is`)}
	// ClusterClientRole is the one-shot `redis-cli --cluster create` run.
	ClusterClientRole = Role{Name: "redis-cli", Ready: regexp.MustCompile(`All 16384 slots covered`)}
)

// PortAssignment holds the ports an instance listens on. Zero means unused.
type PortAssignment struct {
	Port    int
	TLSPort int
}

// Launchable describes how to launch a process and when it counts as ready.
type Launchable interface {
	// Args returns the full argument vector, executable first.
	Args() []string
	// ReadyPattern matches the stdout line that signals readiness.
	ReadyPattern() *regexp.Regexp
	// Ports returns the ports the process listens on.
	Ports() PortAssignment
}

// InstanceSpec is the frozen launch description produced by the builders.
type InstanceSpec struct {
	Role     Role
	Argv     []string
	Assigned PortAssignment
}

// Args returns a copy of the argument vector.
func (s *InstanceSpec) Args() []string {
	return append([]string(nil), s.Argv...)
}

// ReadyPattern returns the role's readiness regexp.
func (s *InstanceSpec) ReadyPattern() *regexp.Regexp {
	return s.Role.Ready
}

// Ports returns the assigned ports.
func (s *InstanceSpec) Ports() PortAssignment {
	return s.Assigned
}

// Name returns the role name.
func (s *InstanceSpec) Name() string {
	return s.Role.Name
}

func portSet(ports ...int) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p > 0 {
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}
