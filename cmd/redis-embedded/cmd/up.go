package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/pkg/manifest"
	"github.com/jrepp/embedded-redis/pkg/shutdown"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the topology described by a manifest",
	Long: `Build and run a topology from a YAML manifest.

With --watch the manifest is reloaded on every save: the running topology
is stopped and the new one started. A manifest that fails validation is
reported and the running topology is kept.

Example:
  redis-embedded up -f topology.yaml
  redis-embedded up -f topology.yaml --watch
`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringP("file", "f", "", "manifest file")
	upCmd.Flags().Bool("watch", false, "restart the topology when the manifest changes")
	upCmd.Flags().Duration("debounce", defaultDebounce, "wait this long after the last change before reloading")
	_ = upCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	m, err := manifest.Load(path)
	if err != nil {
		rt.ui.Error(err.Error())
		return err
	}
	applyDefaults(m)

	if watch {
		return rt.watch(cmd.Context(), path, m, debounce)
	}

	r, err := rt.buildManifest(cmd.Context(), m, rt.registry)
	if err != nil {
		rt.ui.Error(err.Error())
		return err
	}
	return rt.serve(cmd.Context(), m.Name, string(m.Mode), r)
}

// buildManifest builds m with instance cleanup registered in reg. Extracted
// binaries stay on the app registry so reloads reuse them.
func (a *app) buildManifest(ctx context.Context, m *manifest.Manifest, reg *shutdown.Registry) (topology.Redis, error) {
	return manifest.Build(ctx, m,
		manifest.WithRegistry(reg),
		manifest.WithInstanceOptions(a.instanceOptions()...),
		manifest.WithResolverOptions(a.resolverOptions()...),
	)
}

// applyDefaults fills manifest gaps from global config. Manifest values win.
func applyDefaults(m *manifest.Manifest) {
	if m.Bind == "" {
		m.Bind = rt.cfg.Bind
	}
	fill := func(dst *string, src string) {
		if *dst != "" || src == "" {
			return
		}
		if abs, err := filepath.Abs(src); err == nil {
			src = abs
		}
		*dst = src
	}
	fill(&m.Executables.Server, rt.cfg.Executables.Server)
	fill(&m.Executables.Sentinel, rt.cfg.Executables.Sentinel)
	fill(&m.Executables.CLI, rt.cfg.Executables.CLI)
}
