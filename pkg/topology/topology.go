// Package topology starts and stops groups of redis instances as one unit:
// plain groups, sentinel-monitored replication groups and clusters.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Redis is anything that can be started, stopped and asked for its ports.
// *supervisor.Instance and every topology in this package implement it.
type Redis interface {
	Start(ctx context.Context) error
	Stop() error
	IsActive() bool
	Ports() []int
	TLSPorts() []int
}

// Runner is a one-shot process that runs to completion.
type Runner interface {
	Run(ctx context.Context) error
}

// Group is an ordered set of members started and stopped together.
type Group struct {
	members []Redis
	logger  *slog.Logger
}

// NewGroup creates a group. Members start in the given order.
func NewGroup(members ...Redis) *Group {
	return &Group{
		members: members,
		logger:  slog.Default().With("component", "topology"),
	}
}

// Members returns the members in start order.
func (g *Group) Members() []Redis {
	return append([]Redis(nil), g.members...)
}

// Start starts every member in order. When one fails, the members started so
// far are stopped again (best effort) and the start error is returned.
func (g *Group) Start(ctx context.Context) error {
	return startAll(ctx, g.logger, g.members)
}

// Stop stops every member, continuing past failures.
func (g *Group) Stop() error {
	return stopAll(g.members)
}

// IsActive reports whether the group has members and all of them are active.
func (g *Group) IsActive() bool {
	return allActive(g.members)
}

// Ports returns every member port, sorted.
func (g *Group) Ports() []int {
	return collectPorts(g.members, Redis.Ports)
}

// TLSPorts returns every member TLS port, sorted.
func (g *Group) TLSPorts() []int {
	return collectPorts(g.members, Redis.TLSPorts)
}

func startAll(ctx context.Context, logger *slog.Logger, members []Redis) error {
	for i, m := range members {
		if err := m.Start(ctx); err != nil {
			logger.Error("member failed to start, stopping started members",
				"member", i, "ports", m.Ports(), "error", err)
			if stopErr := stopAll(members[:i]); stopErr != nil {
				logger.Warn("cleanup after failed start was incomplete", "error", stopErr)
			}
			return fmt.Errorf("start member %d (ports %v): %w", i, m.Ports(), err)
		}
	}
	return nil
}

func stopAll(members []Redis) error {
	var errs []error
	for _, m := range members {
		if err := m.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func allActive(members []Redis) bool {
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if !m.IsActive() {
			return false
		}
	}
	return true
}

func collectPorts(members []Redis, get func(Redis) []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, m := range members {
		for _, p := range get(m) {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Ints(out)
	return out
}
