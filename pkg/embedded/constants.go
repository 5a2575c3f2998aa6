// Package embedded builds redis-server, redis-sentinel and cluster-forming
// redis-cli instances ready to be supervised.
//
// A minimal standalone server:
//
//	server, err := embedded.NewServerBuilder().Port(6380).Build(ctx)
//	if err != nil {
//	    return err
//	}
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Stop()
package embedded

import "time"

const (
	// DefaultHost is the interface instances bind to and sentinels monitor.
	DefaultHost = "127.0.0.1"
	// LocalHost is the name used when handing addresses to clients.
	LocalHost = "localhost"

	DefaultServerPort   = 6379
	DefaultSentinelPort = 26379
	DefaultMasterPort   = 6379
	DefaultMasterName   = "mymaster"

	DefaultQuorum          = 1
	DefaultDownAfter       = 60 * time.Second
	DefaultFailoverTimeout = 180 * time.Second
	DefaultParallelSyncs   = 1
)
