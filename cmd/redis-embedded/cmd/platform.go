package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/pkg/executable"
	"github.com/jrepp/embedded-redis/pkg/platform"
)

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Show the detected platform and the binaries it resolves to",
	RunE:  runPlatform,
}

func init() {
	rootCmd.AddCommand(platformCmd)
}

func runPlatform(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	key, err := platform.Detect(ctx)
	if err != nil {
		rt.ui.Error(err.Error())
		return err
	}

	rt.ui.Header("Platform")
	rt.ui.KeyValue("key", key.String())
	rt.ui.KeyValue("redis", executable.RedisVersion)

	rt.ui.Header("Executables")
	binaries := []struct {
		name     string
		override string
	}{
		{executable.ServerBinary, rt.cfg.Executables.Server},
		{executable.SentinelBinary, rt.cfg.Executables.Sentinel},
		{executable.CLIBinary, rt.cfg.Executables.CLI},
	}
	for _, b := range binaries {
		path, err := rt.resolver(b.name, b.override).Resolve(ctx)
		if err != nil {
			rt.ui.KeyValue(b.name, "unavailable ("+err.Error()+")")
			continue
		}
		rt.ui.KeyValue(b.name, path)
	}
	return nil
}
