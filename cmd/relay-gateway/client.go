// ABOUTME: Client subcommands that talk to a running gateway over its HTTP API
// ABOUTME: health, snapshot, details, and save

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/relay-gateway/internal/registry"
)

// baseURL returns the gateway HTTP base URL from --addr or the config.
func (o *rootOptions) baseURL() (string, error) {
	addr := o.addr
	if addr == "" {
		cfg, _, err := o.loadConfig()
		if err != nil {
			return "", err
		}
		addr = cfg.Server.HTTPAddr
		if cfg.Tailscale.Enabled {
			addr = cfg.Tailscale.Hostname
		}
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/"), nil
}

func doRequest(ctx context.Context, method, target string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// apiError extracts the message from a JSON error body.
func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("gateway returned %d: %s", status, e.Error)
	}
	return fmt.Errorf("gateway returned %d: %s", status, strings.TrimSpace(string(body)))
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health and connected agent count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := opts.baseURL()
			if err != nil {
				return err
			}

			status, _, err := doRequest(cmd.Context(), http.MethodGet, base+"/health", nil)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", status)
			}

			_, body, err := doRequest(cmd.Context(), http.MethodGet, base+"/health/ready", nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "healthy: %s\n", strings.TrimSpace(string(body)))
			return nil
		},
	}
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the agents and resources the gateway knows about",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := opts.baseURL()
			if err != nil {
				return err
			}

			status, body, err := doRequest(cmd.Context(), http.MethodGet, base+"/api/snapshot", nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}

			var snap registry.Snapshot
			if err := json.Unmarshal(body, &snap); err != nil {
				return fmt.Errorf("decoding snapshot: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(out, snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printSnapshot(out io.Writer, snap registry.Snapshot) {
	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)

	bold.Fprintf(out, "Agents (%d)\n", len(snap.Agents))
	for _, a := range snap.Agents {
		fmt.Fprintf(out, "  %-20s %s", a.ID, a.Name)
		gray.Fprintf(out, "  seen %s\n", a.LastSeen.Local().Format(time.DateTime))
	}

	bold.Fprintf(out, "Resources (%d)\n", len(snap.Resources))
	for _, r := range snap.Resources {
		value := "-"
		updated := "never"
		if r.LastUpdated != nil {
			value = fmt.Sprintf("%.1f", r.Value)
			updated = r.LastUpdated.Local().Format(time.DateTime)
		}
		fmt.Fprintf(out, "  %-10s %-20s %6s", r.ID, r.Name, value)
		gray.Fprintf(out, "  %s via %s\n", updated, r.AgentID)
	}
}

func newDetailsCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "details AGENT RESOURCE",
		Short: "Ask an agent for the details of one resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.baseURL()
			if err != nil {
				return err
			}

			target := fmt.Sprintf("%s/api/agents/%s/resources/%s/details", base,
				url.PathEscape(args[0]), url.PathEscape(args[1]))
			if timeout > 0 {
				target += "?timeout=" + url.QueryEscape(timeout.String())
			}

			status, body, err := doRequest(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}
			_, err = cmd.OutOrStdout().Write(append(body, '\n'))
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the agent (default gateway bridge.request_timeout)")
	return cmd
}

func newSaveCmd(opts *rootOptions) *cobra.Command {
	var (
		timeout time.Duration
		file    string
	)

	cmd := &cobra.Command{
		Use:   "save AGENT [PAYLOAD]",
		Short: "Ask an agent to persist a payload",
		Long:  "Sends PAYLOAD (or the contents of --file, or stdin when PAYLOAD is -) to the agent's save handler.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args[1:], file)
			if err != nil {
				return err
			}

			base, err := opts.baseURL()
			if err != nil {
				return err
			}

			target := fmt.Sprintf("%s/api/agents/%s/save", base, url.PathEscape(args[0]))
			if timeout > 0 {
				target += "?timeout=" + url.QueryEscape(timeout.String())
			}

			status, body, err := doRequest(cmd.Context(), http.MethodPost, target, strings.NewReader(payload))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return apiError(status, body)
			}

			var result struct {
				OK      bool   `json:"ok"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("decoding save result: %w", err)
			}
			if !result.OK {
				return fmt.Errorf("save failed: %s", result.Message)
			}
			color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "✓ ")
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the agent (default gateway bridge.request_timeout)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from a file")
	return cmd
}

func readPayload(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("give either PAYLOAD or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading payload file: %w", err)
		}
		return string(data), nil
	case len(args) == 0:
		return "", fmt.Errorf("a PAYLOAD argument or --file is required")
	case args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading payload from stdin: %w", err)
		}
		return string(data), nil
	default:
		return args[0], nil
	}
}
