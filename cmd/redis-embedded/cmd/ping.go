package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jrepp/embedded-redis/pkg/client"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "PING a local redis until it answers",
	RunE:  runPing,
}

func init() {
	pingCmd.Flags().Int("port", 6379, "port on localhost")
	pingCmd.Flags().Duration("timeout", 5*time.Second, "give up after this long")
	rootCmd.AddCommand(pingCmd)
}

type portList []int

func (p portList) Ports() []int { return p }

func runPing(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := client.NewClient(portList{port}, client.Config{})
	if err != nil {
		return err
	}
	defer c.Close()

	started := time.Now()
	if err := client.WaitReachable(cmd.Context(), c, timeout); err != nil {
		rt.ui.Error(err.Error())
		return err
	}
	rt.ui.Success(fmt.Sprintf("PONG from %s in %s", client.HostAddrs(portList{port})[0], time.Since(started).Round(time.Millisecond)))
	return nil
}
