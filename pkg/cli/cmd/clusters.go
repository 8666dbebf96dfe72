package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/kadali/pkg/api/client"
	"github.com/rzbill/kadali/pkg/api/rest"
	"github.com/rzbill/kadali/pkg/cli/format"
)

func newClustersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clusters",
		Aliases: []string{"cluster", "cl"},
		Short:   "Create, inspect and terminate Spark clusters",
	}

	cmd.AddCommand(
		newClustersCreateCmd(c),
		newClustersListCmd(c),
		newClustersGetCmd(c),
		newClustersTerminateCmd(c),
		newClustersActivityCmd(c),
		newClustersHistoryCmd(c),
	)
	return cmd
}

func newClustersCreateCmd(c *cli) *cobra.Command {
	req := &rest.CreateClusterRequest{}
	var driverCores, executorCores, executorCount, idleMinutes int

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a cluster and wait until it is running",
		Args:  cobra.ExactArgs(1),
		Example: `  # Interactive cluster with the default shape
  kadali clusters create notebooks --tenant acme

  # Batch cluster with four 4g executors that never idles out
  kadali clusters create nightly-etl --type JOB --executors 4 --executor-memory 4g --idle-minutes 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			flags := cmd.Flags()
			if flags.Changed("driver-cores") {
				req.DriverCores = &driverCores
			}
			if flags.Changed("executor-cores") {
				req.ExecutorCores = &executorCores
			}
			if flags.Changed("executors") {
				req.ExecutorCount = &executorCount
			}
			if flags.Changed("idle-minutes") {
				req.IdleMinutes = &idleMinutes
			}

			clusters, err := c.clusterClient(true)
			if err != nil {
				return err
			}

			cluster, err := clusters.CreateCluster(cmd.Context(), req)
			if err != nil {
				// a failed provision still leaves an ERROR record behind
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Cluster != nil {
					_ = c.printCluster(cmd.OutOrStdout(), apiErr.Cluster)
				}
				return err
			}

			if c.output == OutputTable {
				fmt.Fprintln(cmd.OutOrStdout(), format.Success("Cluster %s is %s", cluster.ID, cluster.Status))
			}
			return c.printCluster(cmd.OutOrStdout(), cluster)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Type, "type", "INTERACTIVE", "cluster type (INTERACTIVE, JOB, ML)")
	flags.StringVar(&req.DriverMemory, "driver-memory", "", "driver memory in Spark notation (default 2g)")
	flags.IntVar(&driverCores, "driver-cores", rest.DefaultDriverCores, "driver CPU cores")
	flags.StringVar(&req.ExecutorMemory, "executor-memory", "", "memory per executor in Spark notation (default 2g)")
	flags.IntVar(&executorCores, "executor-cores", rest.DefaultExecutorCores, "CPU cores per executor")
	flags.IntVar(&executorCount, "executors", rest.DefaultExecutorCount, "number of executors")
	flags.IntVar(&idleMinutes, "idle-minutes", 0, "minutes of inactivity before the cluster is terminated; 0 disables (default: server setting)")
	return cmd
}

func newClustersListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the tenant's clusters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := c.clusterClient(true)
			if err != nil {
				return err
			}
			list, err := clusters.ListClusters(cmd.Context())
			if err != nil {
				return err
			}
			return c.printClusters(cmd.OutOrStdout(), list)
		},
	}
}

func newClustersGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := c.clusterClient(true)
			if err != nil {
				return err
			}
			cluster, err := clusters.GetCluster(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printCluster(cmd.OutOrStdout(), cluster)
		},
	}
}

func newClustersTerminateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "terminate ID [ID...]",
		Aliases: []string{"delete", "rm"},
		Short:   "Terminate clusters and release their resources",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := c.clusterClient(true)
			if err != nil {
				return err
			}

			var errs []error
			for _, id := range args {
				if err := clusters.TerminateCluster(cmd.Context(), id); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), format.Error("%s: %v", id, err))
					errs = append(errs, err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), format.Success("Cluster %s terminated", id))
			}
			return errors.Join(errs...)
		},
	}
}

func newClustersActivityCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "activity ID",
		Short: "Record activity so the cluster is not reaped as idle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := c.clusterClient(true)
			if err != nil {
				return err
			}
			cluster, err := clusters.RecordActivity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if done, err := c.printStructured(cmd.OutOrStdout(), cluster); done {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), format.Success("Activity recorded for %s at %s",
				cluster.ID, cluster.LastActivityAt.Format("15:04:05 MST")))
			return nil
		},
	}
}

func newClustersHistoryCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show every saved revision of a cluster, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusters, err := c.clusterClient(true)
			if err != nil {
				return err
			}
			revisions, err := clusters.ClusterHistory(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printRevisions(cmd.OutOrStdout(), revisions)
		},
	}
}
