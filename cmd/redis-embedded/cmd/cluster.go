package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/pkg/topology"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run a redis cluster",
	Long: `Start cluster-enabled servers and join them with redis-cli.

Example:
  redis-embedded cluster
  redis-embedded cluster --ports 7000,7001,7002,7003,7004,7005 --replicas 1
`,
	RunE: runCluster,
}

func init() {
	f := clusterCmd.Flags()
	f.IntSlice("ports", []int{7000, 7001, 7002}, "node ports")
	f.Int("replicas", 0, "replicas per master")
	f.StringArray("setting", nil, "config line applied to every node, repeatable")
	rootCmd.AddCommand(clusterCmd)
}

func runCluster(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	nodePorts, _ := f.GetIntSlice("ports")
	replicas, _ := f.GetInt("replicas")
	settings, _ := f.GetStringArray("setting")

	b := topology.NewClusterBuilder().
		WithServerBuilder(rt.serverBuilder()).
		WithClientBuilder(rt.clientBuilder()).
		Host(rt.cfg.Bind).
		NodePorts(nodePorts...).
		ClusterReplicas(replicas)
	for _, s := range settings {
		b.ServerSetting(s)
	}

	cluster, err := b.Build(cmd.Context())
	if err != nil {
		rt.ui.Error(err.Error())
		return err
	}
	return rt.serve(cmd.Context(), "cluster", "cluster", cluster)
}
