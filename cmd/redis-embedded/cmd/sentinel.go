package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/pkg/embedded"
	"github.com/jrepp/embedded-redis/pkg/topology"
)

var sentinelCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Run replication groups watched by redis-sentinel",
	Long: `Run one or more master/replica groups and the sentinels watching them.

Groups are given as name:replicas.

Example:
  redis-embedded sentinel
  redis-embedded sentinel --sentinels 3 --quorum 2 --group mymaster:2
  redis-embedded sentinel --group alpha:1 --group beta:1 --down-after 5s
`,
	RunE: runSentinel,
}

func init() {
	f := sentinelCmd.Flags()
	f.Int("sentinels", 1, "number of sentinels")
	f.Int("quorum", embedded.DefaultQuorum, "sentinels needed to agree a master is down")
	f.StringArray("group", []string{embedded.DefaultMasterName + ":1"}, "replication group as name:replicas, repeatable")
	f.Int("server-port", embedded.DefaultServerPort, "first server port")
	f.Int("sentinel-port", embedded.DefaultSentinelPort, "first sentinel port")
	f.Duration("down-after", embedded.DefaultDownAfter, "time before a silent master is considered down")
	f.Duration("failover-timeout", embedded.DefaultFailoverTimeout, "failover timeout")
	f.Int("parallel-syncs", embedded.DefaultParallelSyncs, "replicas resynced at once after failover")
	f.String("start-order", topology.SentinelsFirst.String(), "sentinels-first or servers-first")
	rootCmd.AddCommand(sentinelCmd)
}

func runSentinel(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	count, _ := f.GetInt("sentinels")
	quorum, _ := f.GetInt("quorum")
	groups, _ := f.GetStringArray("group")
	serverPort, _ := f.GetInt("server-port")
	sentinelPort, _ := f.GetInt("sentinel-port")
	downAfter, _ := f.GetDuration("down-after")
	failoverTimeout, _ := f.GetDuration("failover-timeout")
	parallelSyncs, _ := f.GetInt("parallel-syncs")
	order, _ := f.GetString("start-order")

	b := topology.NewSentinelGroupBuilder().
		WithServerBuilder(rt.serverBuilder()).
		WithSentinelBuilder(rt.sentinelBuilder()).
		Host(rt.cfg.Bind).
		SentinelCount(count).
		QuorumSize(quorum).
		ServerStartingPort(serverPort).
		SentinelStartingPort(sentinelPort).
		DownAfter(downAfter).
		FailoverTimeout(failoverTimeout).
		ParallelSyncs(parallelSyncs)

	switch order {
	case topology.SentinelsFirst.String():
		b.StartOrder(topology.SentinelsFirst)
	case topology.ServersFirst.String():
		b.StartOrder(topology.ServersFirst)
	default:
		return fmt.Errorf("invalid --start-order %q", order)
	}

	for _, g := range groups {
		name, replicas, err := parseGroup(g)
		if err != nil {
			return err
		}
		b.ReplicationGroup(name, replicas)
	}

	sg, err := b.Build(cmd.Context())
	if err != nil {
		rt.ui.Error(err.Error())
		return err
	}
	return rt.serve(cmd.Context(), "sentinel", "sentinel", sg)
}

// parseGroup splits name:replicas; a bare name means no replicas.
func parseGroup(s string) (string, int, error) {
	name, count, found := strings.Cut(s, ":")
	if name == "" {
		return "", 0, fmt.Errorf("invalid group %q: missing name", s)
	}
	if !found {
		return name, 0, nil
	}
	replicas, err := strconv.Atoi(count)
	if err != nil || replicas < 0 {
		return "", 0, fmt.Errorf("invalid group %q: replicas must be a non-negative number", s)
	}
	return name, replicas, nil
}
