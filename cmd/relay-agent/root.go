// ABOUTME: Cobra command tree for relay-agent
// ABOUTME: Loads agent config, wires transport, store, and driver, and runs until signalled

package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/relay-gateway/internal/agent"
	"github.com/2389/relay-gateway/internal/config"
	"github.com/2389/relay-gateway/internal/logging"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/transport"
)

type options struct {
	configPath string
	gateway    string
	agentID    string
	name       string
	quiet      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	run := func(cmd *cobra.Command, _ []string) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		return runAgent(cmd, cfg, opts.quiet)
	}

	rootCmd := &cobra.Command{
		Use:          "relay-agent",
		Short:        "Agent that reports resources to a relay-gateway",
		Long:         "relay-agent keeps a connection to relay-gateway, registers its resources, pushes value changes, and answers details and save requests.",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $RELAY_AGENT_CONFIG or ~/.config/relay/agent.yaml)")
	flags.StringVar(&opts.gateway, "gateway", "", "gateway gRPC address (overrides gateway.address)")
	flags.StringVar(&opts.agentID, "id", "", "agent id (overrides agent.id)")
	flags.StringVar(&opts.name, "name", "", "agent display name (overrides agent.name)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print status changes")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve until interrupted (default)",
		Args:  cobra.NoArgs,
		RunE:  run,
	})

	return rootCmd
}

// loadConfig reads the agent config and applies flag overrides. A missing
// file at a default location yields the built-in defaults.
func (o *options) loadConfig() (*config.AgentConfig, error) {
	path := config.ResolvePath(o.configPath, config.AgentConfigEnv, config.AgentConfigFile)
	explicit := o.configPath != "" || os.Getenv(config.AgentConfigEnv) != ""

	var cfg *config.AgentConfig
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !explicit {
		cfg = config.DefaultAgent()
	} else {
		loaded, err := config.LoadAgent(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	if o.gateway != "" {
		cfg.Gateway.Address = o.gateway
	}
	if o.agentID != "" {
		cfg.Agent.ID = o.agentID
	}
	if o.name != "" {
		cfg.Agent.Name = o.name
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// components are the pieces runAgent owns and must close.
type components struct {
	driver   *agent.Driver
	client   *transport.Client
	settings store.SettingsStore
}

func (c *components) Close() error {
	return errors.Join(c.client.Close(), c.settings.Close())
}

func backoffFrom(cfg config.ReconnectConfig) transport.BackoffConfig {
	b := transport.BackoffConfig{
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
		Jitter:       true,
	}
	if cfg.Jitter != nil {
		b.Jitter = *cfg.Jitter
	}
	return b
}

func resourcesFrom(list []config.ResourceConfig) []agent.Resource {
	out := make([]agent.Resource, 0, len(list))
	for _, r := range list {
		base := agent.DefaultBase(r.ID)
		if r.Base != nil {
			base = *r.Base
		}
		out = append(out, agent.Resource{ID: r.ID, Name: r.Name, Base: base})
	}
	return out
}

// build wires the transport client, settings store, and driver from cfg.
func build(cfg *config.AgentConfig, logger *slog.Logger) (*components, error) {
	backoff := backoffFrom(cfg.Gateway.Reconnect)

	client, err := transport.NewClient(transport.ClientConfig{
		Address:                cfg.Gateway.Address,
		Backoff:                backoff,
		HandshakeTimeout:       cfg.Gateway.HandshakeTimeout,
		SendQueueSize:          cfg.Gateway.SendQueueSize,
		QueueWhileDisconnected: cfg.Gateway.QueueWhileDisconnected,
		Logger:                 logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	settings, err := store.Open(cfg.Settings.Backend, cfg.Settings.Path)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("opening settings store: %w", err)
	}

	driver, err := agent.New(agent.Config{
		AgentID:        cfg.Agent.ID,
		Name:           cfg.Agent.Name,
		Resources:      resourcesFrom(cfg.Resources),
		Interval:       cfg.Sampler.Interval,
		ConnectBackoff: backoff,
		Store:          settings,
		Logger:         logger,
	}, client)
	if err != nil {
		_ = client.Close()
		_ = settings.Close()
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	return &components{driver: driver, client: client, settings: settings}, nil
}

func runAgent(cmd *cobra.Command, cfg *config.AgentConfig, quiet bool) error {
	logger := logging.New(cfg.Logging)

	c, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("closing agent", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	if !quiet {
		printHeader(out, cfg)
		c.driver.Status().OnChange(func(s agent.StatusSnapshot) { printStatus(out, s) })
	}

	logger.Info("starting relay-agent",
		"agent_id", cfg.Agent.ID,
		"gateway", cfg.Gateway.Address,
		"resources", len(cfg.Resources),
		"settings", cfg.Settings.Path,
	)
	return c.driver.Run(cmd.Context())
}

func printHeader(out io.Writer, cfg *config.AgentConfig) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Fprint(out, "▶ ")
	fmt.Fprint(out, "Agent:     ")
	cyan.Fprintf(out, "%s", cfg.Agent.ID)
	fmt.Fprintf(out, " (%s)\n", cfg.Agent.Name)
	green.Fprint(out, "▶ ")
	fmt.Fprintf(out, "Gateway:   %s\n", cfg.Gateway.Address)
	green.Fprint(out, "▶ ")
	fmt.Fprintf(out, "Resources: %d\n", len(cfg.Resources))
	green.Fprint(out, "▶ ")
	fmt.Fprintf(out, "Settings:  %s (%s)\n\n", cfg.Settings.Path, cfg.Settings.Backend)
}

func printStatus(out io.Writer, s agent.StatusSnapshot) {
	var state string
	switch s.State {
	case agent.StateConnected:
		state = color.GreenString("%-12s", s.State)
	case agent.StateConnecting:
		state = color.YellowString("%-12s", s.State)
	default:
		state = color.RedString("%-12s", s.State)
	}
	fmt.Fprintf(out, "%s %s %s\n",
		color.HiBlackString(s.UpdatedAt.Local().Format(time.TimeOnly)), state, s.LastMessage)
}
