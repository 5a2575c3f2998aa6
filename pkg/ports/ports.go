// Package ports hands out TCP ports for embedded redis instances.
package ports

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
)

// Provider hands out ports one at a time.
type Provider interface {
	Next() (int, error)
}

// SequenceProvider returns consecutive ports starting at a given value.
// Safe for concurrent use.
type SequenceProvider struct {
	next atomic.Int64
}

// NewSequenceProvider creates a provider whose first port is start.
func NewSequenceProvider(start int) *SequenceProvider {
	p := &SequenceProvider{}
	p.next.Store(int64(start))
	return p
}

// Next returns the current port and advances the sequence.
func (p *SequenceProvider) Next() (int, error) {
	return int(p.next.Add(1) - 1), nil
}

// SetCurrent repositions the sequence so the next call returns port.
func (p *SequenceProvider) SetCurrent(port int) {
	p.next.Store(int64(port))
}

// PredefinedProvider returns ports from a fixed list and fails once the list
// is used up. Duplicates are dropped, first occurrence wins.
type PredefinedProvider struct {
	mu    sync.Mutex
	ports []int
	pos   int
}

// NewPredefinedProvider creates a provider over ports.
func NewPredefinedProvider(ports ...int) *PredefinedProvider {
	seen := make(map[int]bool, len(ports))
	unique := make([]int, 0, len(ports))
	for _, port := range ports {
		if seen[port] {
			continue
		}
		seen[port] = true
		unique = append(unique, port)
	}
	return &PredefinedProvider{ports: unique}
}

// Next returns the next unused port or a PORTS_EXHAUSTED error.
func (p *PredefinedProvider) Next() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pos >= len(p.ports) {
		return 0, rediserr.PortsExhausted(len(p.ports))
	}
	port := p.ports[p.pos]
	p.pos++
	return port, nil
}

// Remaining reports how many ports are left.
func (p *PredefinedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ports) - p.pos
}

// EphemeralProvider asks the kernel for a free port each call. The port is
// released before it is returned, so another process may take it first.
type EphemeralProvider struct {
	// Host is the interface to check. Defaults to 127.0.0.1.
	Host string
}

// NewEphemeralProvider creates a provider probing 127.0.0.1.
func NewEphemeralProvider() *EphemeralProvider {
	return &EphemeralProvider{Host: "127.0.0.1"}
}

// Next binds port 0, reads the assigned port and closes the listener.
func (p *EphemeralProvider) Next() (int, error) {
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, rediserr.Build("Cannot allocate ephemeral port", err).
			WithContext("host", host)
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, rediserr.Build(fmt.Sprintf("Unexpected listener address %T", l.Addr()), nil)
	}
	return addr.Port, nil
}

// Take draws n ports from p.
func Take(p Provider, n int) ([]int, error) {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		port, err := p.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, port)
	}
	return out, nil
}
