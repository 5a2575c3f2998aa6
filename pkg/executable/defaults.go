package executable

import (
	"fmt"

	"github.com/jrepp/embedded-redis/pkg/platform"
)

// RedisVersion is the version of the default artifacts.
const RedisVersion = "7.0.11"

// Binary names of the redis tools.
const (
	ServerBinary   = "redis-server"
	SentinelBinary = "redis-sentinel"
	CLIBinary      = "redis-cli"
)

// ArtifactName returns the bundled artifact name for binary on key,
// e.g. redis-server-7.0.11-linux-amd64.
func ArtifactName(binary string, key platform.Key) string {
	return fmt.Sprintf("%s-%s-%s", binary, RedisVersion, key)
}

// NewDefaultResolver returns a resolver with one artifact per supported
// platform for binary.
func NewDefaultResolver(binary string, opts ...Option) *Resolver {
	r := NewResolver(opts...)
	for _, key := range platform.Supported() {
		r.OverrideArch(key.OS, key.Arch, ArtifactName(binary, key))
	}
	return r
}

// ServerResolver returns the default redis-server mapping.
func ServerResolver(opts ...Option) *Resolver {
	return NewDefaultResolver(ServerBinary, opts...)
}

// SentinelResolver returns the default redis-sentinel mapping.
func SentinelResolver(opts ...Option) *Resolver {
	return NewDefaultResolver(SentinelBinary, opts...)
}

// CLIResolver returns the default redis-cli mapping.
func CLIResolver(opts ...Option) *Resolver {
	return NewDefaultResolver(CLIBinary, opts...)
}
