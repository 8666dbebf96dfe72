// Package cmd implements the kadali command line client.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rzbill/kadali/internal/config"
	"github.com/rzbill/kadali/pkg/api/client"
	"github.com/rzbill/kadali/pkg/cli/format"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/version"
)

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// cliFlagBindings maps persistent flags onto client configuration keys.
var cliFlagBindings = map[string]string{
	"server":  "client.address",
	"token":   "client.token",
	"tenant":  "client.tenant",
	"timeout": "client.timeout",
}

// cli holds the state shared by every command of one invocation.
type cli struct {
	v          *viper.Viper
	configFile string
	output     string
	noColor    bool
	verbose    bool

	cfg *config.Config
}

// NewRootCmd builds the kadali command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "kadali",
		Short: "Kadali - ephemeral Spark clusters on Kubernetes",
		Long: `kadali talks to a kadalid server to create, inspect and terminate
tenant-isolated Spark clusters.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default is $HOME/.kadali/config.yaml)")
	flags.String("server", "", "kadalid API address (default http://localhost:7070)")
	flags.String("token", "", "API key sent as a bearer token")
	flags.String("tenant", "", "tenant to act for")
	flags.Duration("timeout", 0, "timeout for a single API call")
	flags.StringVarP(&c.output, "output", "o", OutputTable, "output format (table, json, yaml)")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "log API calls")

	for name, key := range cliFlagBindings {
		_ = c.v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.AddCommand(
		newClustersCmd(c),
		newHealthCmd(c),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the kadali CLI and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, format.Error("Error: %v", err))
		os.Exit(1)
	}
}

func (c *cli) load() error {
	switch c.output {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", c.output)
	}
	if c.noColor {
		format.EnableColor(false)
	}

	path := c.configFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".kadali", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}

	cfg, err := config.LoadWith(c.v, path)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// clusterClient connects to the configured server.
func (c *cli) clusterClient(requireTenant bool) (*client.ClusterClient, error) {
	if requireTenant && c.cfg.Client.Tenant == "" {
		return nil, errors.New("no tenant set: use --tenant or KADALI_CLIENT_TENANT")
	}

	level := log.WarnLevel
	if c.verbose {
		level = log.DebugLevel
	}
	logger := log.NewLogger(
		log.WithLevel(level),
		log.WithOutput(log.NewConsoleOutput(log.WithErrorToStderr())),
	).WithComponent("kadali")

	timeout := c.cfg.Client.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	api, err := client.NewClient(&client.ClientOptions{
		Address:     c.cfg.Client.Address,
		Token:       c.cfg.Client.Token,
		TenantID:    c.cfg.Client.Tenant,
		CallTimeout: timeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return client.NewClusterClient(api), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Show the kadali version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info("kadali"))
		},
	}
}
