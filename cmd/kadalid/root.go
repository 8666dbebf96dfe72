package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rzbill/kadali/internal/config"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/version"
)

// app carries the configuration shared by every subcommand.
type app struct {
	v          *viper.Viper
	configFile string

	cfg    *config.Config
	logger log.Logger
}

// flagBindings maps persistent flags onto configuration keys.
var flagBindings = map[string]string{
	"http-addr":  "server.http_address",
	"data-dir":   "data_dir",
	"store":      "store.backend",
	"kubeconfig": "kubernetes.kubeconfig",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "kadalid",
		Short: "Kadali - ephemeral Spark clusters on Kubernetes",
		Long: `kadalid provisions tenant-isolated Spark clusters on Kubernetes, tracks
their lifecycle, and tears them down once they go idle.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is ./kadali.yaml or /etc/kadali/kadali.yaml)")
	flags.String("http-addr", "", "HTTP API listen address")
	flags.String("data-dir", "", "data directory for the badger store")
	flags.String("store", "", "record store backend (badger, postgres, memory)")
	flags.String("kubeconfig", "", "kubeconfig path (empty for in-cluster config)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	for name, key := range flagBindings {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.AddCommand(
		newServeCmd(a),
		newSweepCmd(a),
		newTenantsCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// load resolves the effective configuration and builds the logger.
func (a *app) load() error {
	cfg, err := config.LoadWith(a.v, a.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := log.ApplyConfig(&cfg.Log)
	if err != nil {
		return err
	}
	log.SetDefaultLogger(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the kadalid version information",
		// version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info("kadalid"))
		},
	}
}
