package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one idle sweep and exit",
		Long: `Terminates every RUNNING cluster whose idle budget has expired, then exits.
Use it to drive the reaper from an external scheduler such as a CronJob.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := build(ctx, a.cfg, nil, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.reaper.Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "examined %d, idle %d, terminated %d, failed %d\n",
				res.Examined, res.Idle, res.Terminated, res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d idle cluster(s) could not be terminated", res.Failed)
			}
			return nil
		},
	}
}
