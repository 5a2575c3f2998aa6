package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/pkg/ports"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a single redis-server",
	Long: `Run a single redis-server until interrupted.

Example:
  redis-embedded server --port 6379
  redis-embedded server --port 0 --setting "maxmemory 64mb"
  redis-embedded server --port 6380 --replicaof 6379
`,
	RunE: runServer,
}

func init() {
	f := serverCmd.Flags()
	f.Int("port", 6379, "TCP port (0 picks a free one)")
	f.Int("tls-port", 0, "TLS port (0 disables TLS)")
	f.Int("replicaof", 0, "replicate the server on this port of --bind")
	f.StringArray("setting", nil, "config line, repeatable")
	f.String("config-file", "", "use this config file instead of generated settings")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	port, _ := f.GetInt("port")
	tlsPort, _ := f.GetInt("tls-port")
	replicaOf, _ := f.GetInt("replicaof")
	settings, _ := f.GetStringArray("setting")
	configFile, _ := f.GetString("config-file")

	if port == 0 {
		var err error
		if port, err = ports.NewEphemeralProvider().Next(); err != nil {
			return err
		}
	}

	b := rt.serverBuilder().Port(port)
	if tlsPort != 0 {
		b.TLSPort(tlsPort)
	}
	if replicaOf != 0 {
		b.ReplicaOf(rt.cfg.Bind, replicaOf)
	}
	for _, s := range settings {
		b.Setting(s)
	}
	if configFile != "" {
		b.ConfigFile(configFile)
	}

	server, err := b.Build(cmd.Context())
	if err != nil {
		rt.ui.Error(err.Error())
		return err
	}
	return rt.serve(cmd.Context(), fmt.Sprintf("redis-server:%d", port), "standalone", server)
}
