// Package cmd provides the CLI commands for redis-embedded
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/cmd/redis-embedded/internal/config"
	"github.com/jrepp/embedded-redis/cmd/redis-embedded/internal/ui"
	"github.com/jrepp/embedded-redis/pkg/executable"
)

var (
	configFile string
	rt         *app
)

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.addr",
	"bundle-dir":   "executables.bundle_dir",
	"server-exe":   "executables.server",
	"sentinel-exe": "executables.sentinel",
	"cli-exe":      "executables.cli",
	"bind":         "bind",
	"trace":        "trace.enabled",
}

var rootCmd = &cobra.Command{
	Use:   "redis-embedded",
	Short: "Run throwaway redis servers, sentinels and clusters",
	Long: `redis-embedded provisions redis-server, redis-sentinel and redis cluster
topologies from bundled or local binaries and supervises them until
interrupted. Temporary configs and extracted binaries are removed on exit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := config.New(configFile)
		for flag, key := range flagKeys {
			if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}

		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rt = newApp(cfg, ui.New())
		return nil
	},
}

// Execute runs the root command and cleans up whatever the command left
// registered.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if rt != nil {
		if cleanupErr := rt.registry.Run(); cleanupErr != nil {
			rt.logger.Warn("cleanup incomplete", "error", cleanupErr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = executable.RedisVersion

	f := rootCmd.PersistentFlags()
	f.StringVar(&configFile, "config", "", "config file (default $HOME/.embedded-redis/config.yaml)")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-format", "text", "log format (text, json)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9121")
	f.String("bundle-dir", "", "directory holding redis artifacts instead of the embedded bundle")
	f.String("server-exe", "", "redis-server binary to use on every platform")
	f.String("sentinel-exe", "", "redis-sentinel binary to use on every platform")
	f.String("cli-exe", "", "redis-cli binary to use on every platform")
	f.String("bind", "127.0.0.1", "listen address of started instances")
	f.Bool("trace", false, "export start and stop spans to stderr")
}
