// ABOUTME: Cobra command tree for relay-gateway
// ABOUTME: Resolves the config file and builds the serve and client subcommands

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/relay-gateway/internal/config"
)

type rootOptions struct {
	configPath string
	addr       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "relay-gateway",
		Short:         "Coordinator for remote resource agents",
		Long:          "relay-gateway accepts long-lived agent connections, tracks the resources they report, and forwards on-demand requests to them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $RELAY_CONFIG or ~/.config/relay/gateway.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.addr, "addr", "", "gateway HTTP address for client commands (default server.http_addr)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newHealthCmd(opts),
		newSnapshotCmd(opts),
		newDetailsCmd(opts),
		newSaveCmd(opts),
	)

	return rootCmd
}

// loadConfig reads the gateway config. A missing file at a default
// location yields the built-in defaults; an explicit path must exist.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(o.configPath, config.GatewayConfigEnv, config.GatewayConfigFile)
	explicit := o.configPath != "" || os.Getenv(config.GatewayConfigEnv) != ""

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), "", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
