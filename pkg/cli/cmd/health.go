package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/kadali/pkg/cli/format"
)

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the kadalid server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := c.clusterClient(false)
			if err != nil {
				return err
			}
			if err := clusters.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Success("%s is healthy", c.cfg.Client.Address))
			return nil
		},
	}
}
