package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codewandler/shardroute/core/app"
)

const envConfig = "SHARDROUTE_CONFIG"

type cli struct {
	configPath string
	logLevel   string
	nodes      []string
	ensemble   []string
	chroot     string

	log    *slog.Logger
	config app.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:               "shardroute",
		Short:             "Route requests to the shards of a search cluster",
		SilenceUsage:      true,
		PersistentPreRunE: c.preRun,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", os.Getenv(envConfig), "path to a TOML config file (env "+envConfig+")")
	flags.StringVar(&c.logLevel, "log-level", "info", `log level ("debug", "info", "warn", "error")`)
	flags.StringSliceVar(&c.nodes, "nodes", nil, "node base URLs to poll collection state from")
	flags.StringSliceVar(&c.ensemble, "ensemble", nil, "NATS URLs of the coordination ensemble")
	flags.StringVar(&c.chroot, "chroot", "", "namespace root inside the ensemble")

	rootCmd.AddCommand(
		c.stateCmd(),
		c.updateCmd(),
		c.selectCmd(),
		c.commitCmd(),
		c.coreCmd(),
		c.publishCmd(),
	)
	return rootCmd
}

func (c *cli) preRun(cmd *cobra.Command, _ []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.logLevel))); err != nil {
		return fmt.Errorf("invalid --log-level %q", c.logLevel)
	}
	c.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if c.configPath != "" {
		cfg, err := app.ParseConfigFile(c.configPath)
		if err != nil {
			return err
		}
		c.config = cfg
	}

	// flags win over the file
	if cmd.Flags().Changed("nodes") || cmd.Flags().Changed("ensemble") {
		c.config.Topology.NodeURLs = c.nodes
		c.config.Topology.EnsembleAddrs = c.ensemble
	}
	if cmd.Flags().Changed("chroot") {
		c.config.Topology.Chroot = c.chroot
	}
	c.config.Log = c.log
	return nil
}

func (c *cli) withApp(cmd *cobra.Command, fn func(a *app.App) error) (err error) {
	a, err := app.New(cmd.Context(), c.config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
