// ABOUTME: serve subcommand for relay-gateway
// ABOUTME: Prints the startup banner, builds the logger, and runs the gateway until signalled

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/relay-gateway/internal/gateway"
	"github.com/2389/relay-gateway/internal/logging"
)

const banner = `
           _                                 _
 _ __ ___ | | __ _ _   _       __ _  __ _  _| |_ _____      ____ _ _   _
| '__/ _ \| |/ _' | | | |___  / _' |/ _' ||_   _/ _ \ \ /\ / / _' | | | |
| | |  __/| | (_| | |_| |___|| (_| | (_| |  | ||  __/\ V  V / (_| | |_| |
|_|  \___||_|\__,_|\__, |     \__, |\__,_|  |_| \___| \_/\_/ \__,_|\__, |
                   |___/      |___/                                |___/
`

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			if path == "" {
				path = "(defaults)"
			}
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:    %s\n", path)
			if cfg.Tailscale.Enabled {
				green.Fprint(out, "    ▶ ")
				fmt.Fprint(out, "Tailscale: ")
				cyan.Fprint(out, cfg.Tailscale.Hostname)
				if cfg.Tailscale.Ephemeral {
					gray.Fprint(out, " (ephemeral)")
				}
				fmt.Fprintln(out)
			} else {
				green.Fprint(out, "    ▶ ")
				fmt.Fprintf(out, "gRPC:      %s\n", cfg.Server.GRPCAddr)
				green.Fprint(out, "    ▶ ")
				fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
			}
			fmt.Fprintln(out)

			logger := logging.New(cfg.Logging)
			logger.Info("starting relay-gateway",
				"config", path,
				"grpc_addr", cfg.Server.GRPCAddr,
				"http_addr", cfg.Server.HTTPAddr,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
