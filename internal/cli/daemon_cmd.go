package cli

import (
	"github.com/spf13/cobra"

	"github.com/hnrobert/nssync/internal/daemon"
)

func newDaemonCmd(g *globals) *cobra.Command {
	var schedule, listen string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run passes on a schedule and serve status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := g.cfg
			if cmd.Flags().Changed("schedule") {
				cfg.Daemon.Schedule = schedule
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.Listen = listen
			}

			runner, cleanup, err := newRunner(cmd.Context(), cfg)
			defer cleanup()
			if err != nil {
				return err
			}
			d := daemon.New(daemon.Config{Schedule: cfg.Daemon.Schedule, ListenAddr: cfg.Daemon.Listen}, runner)
			return d.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule, e.g. \"@every 15m\" or \"*/10 * * * *\"")
	cmd.Flags().StringVar(&listen, "listen", "", "Status API listen address")
	return cmd
}
