// Package client hands the ports of running instances to go-redis clients.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// LocalHost is the host name used in client addresses.
const LocalHost = "localhost"

// Porter is anything that reports the ports it listens on.
type Porter interface {
	Ports() []int
}

// Config holds connection settings shared by the client constructors.
type Config struct {
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PoolSize == 0 {
		c.PoolSize = d.PoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Addrs renders host:port for every port, sorted by port.
func Addrs(host string, ports []int) []string {
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)

	out := make([]string, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, net.JoinHostPort(host, strconv.Itoa(p)))
	}
	return out
}

// HostAddrs renders localhost addresses for p's ports.
func HostAddrs(p Porter) []string {
	return Addrs(LocalHost, p.Ports())
}

// NewClient connects to the first port of p.
func NewClient(p Porter, cfg Config) (*redis.Client, error) {
	addrs := HostAddrs(p)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no ports to connect to")
	}
	cfg = cfg.withDefaults()

	return redis.NewClient(&redis.Options{
		Addr:         addrs[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}), nil
}

// NewFailoverClient connects to masterName through the sentinels in p.
func NewFailoverClient(masterName string, sentinels Porter, cfg Config) (*redis.Client, error) {
	addrs := HostAddrs(sentinels)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no sentinel ports to connect to")
	}
	cfg = cfg.withDefaults()

	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:    masterName,
		SentinelAddrs: addrs,
		Password:      cfg.Password,
		DB:            cfg.DB,
		PoolSize:      cfg.PoolSize,
		MaxRetries:    cfg.MaxRetries,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
	}), nil
}

// NewClusterClient connects to the cluster whose nodes are p's ports.
func NewClusterClient(p Porter, cfg Config) (*redis.ClusterClient, error) {
	addrs := HostAddrs(p)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no cluster ports to connect to")
	}
	cfg = cfg.withDefaults()

	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        addrs,
		Password:     cfg.Password,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}), nil
}

// WaitReachable pings c with exponential backoff until it answers, ctx is
// done or maxElapsed passes. Useful after a failover or while replicas sync.
func WaitReachable(ctx context.Context, c redis.UniversalClient, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second

	logger := slog.Default().With("component", "client")
	_, err := backoff.Retry(ctx, func() (string, error) {
		return c.Ping(ctx).Result()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("redis not reachable yet", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("redis not reachable within %s: %w", maxElapsed, err)
	}
	return nil
}
