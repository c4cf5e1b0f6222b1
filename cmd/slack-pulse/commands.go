// ABOUTME: Subcommands: serve, health, token, analyze, workspaces
// ABOUTME: Each loads the config on its own so flags and env are honored uniformly

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/slack-pulse/internal/analysis"
	"github.com/2389/slack-pulse/internal/auth"
	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/gateway"
	"github.com/2389/slack-pulse/internal/store"
)

const banner = `
     _            _                    _
 ___| | __ _  ___| | __     _ __  _   _| |___  ___
/ __| |/ _' |/ __| |/ /____| '_ \| | | | / __|/ _ \
\__ \ | (_| | (__|   <_____| |_) | |_| | \__ \  __/
|___/_|\__,_|\___|_|\_\    | .__/ \__,_|_|___/\___|
                           |_|
`

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and analysis workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			printStartup(cmd.OutOrStdout(), cfg, path)

			logger := setupLogger(cfg.Logging, nil)
			logger.Info("starting slack-pulse", "config", path, "http_addr", cfg.Server.HTTPAddr, "version", version)

			gw, err := gateway.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printStartup(w io.Writer, cfg *config.Config, path string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:    %s\n", path)
	if cfg.Tailscale.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprint(w, "Tailscale: ")
		cyan.Fprint(w, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(w, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(w, " (ephemeral)")
		}
		fmt.Fprintln(w)
	} else {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Images:    %s\n", cfg.Analysis.ImageMode)
	if cfg.Auth.JWTSecret == "" {
		yellow.Fprintln(w, "    ! admin API disabled (auth.jwt_secret not set)")
	}
	fmt.Fprintln(w)
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			path := "/health"
			if ready {
				path = "/health/ready"
			}
			body, err := probe(cmd.Context(), healthURL(cfg, path))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (database) instead of liveness")
	return cmd
}

func healthURL(cfg *config.Config, path string) string {
	if cfg.Tailscale.Enabled {
		return "https://" + cfg.Tailscale.Hostname + path
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + path
}

func probe(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			subject = strings.TrimSpace(subject)
			if subject == "" {
				return errors.New("--subject must not be empty")
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return err
			}
			token, err := verifier.Generate(subject, auth.PurposeAdmin, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "identity recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var (
		teamID   string
		hours    int
		threadTS string
	)
	cmd := &cobra.Command{
		Use:   "analyze CHANNEL_ID",
		Short: "Run a sentiment analysis now and post it to the channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())

			gw, err := gateway.New(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = gw.Shutdown(ctx)
			}()

			ws, err := gw.Store().GetWorkspaceByTeamID(cmd.Context(), teamID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("workspace %s is not installed", teamID)
			}
			if err != nil {
				return err
			}

			res, err := gw.Analysis().Run(cmd.Context(), analysis.Params{
				WorkspaceID: ws.ID,
				ChannelID:   args[0],
				Hours:       hours,
				ThreadTS:    threadTS,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.MessageCount == 0 {
				fmt.Fprintln(out, analysis.NothingToAnalyzeText(res.Hours))
				return nil
			}
			color.New(color.FgGreen).Fprintf(out, "Analyzed %d messages over %s\n\n", res.MessageCount, analysis.HoursPhrase(res.Hours))
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "Slack team id of the installed workspace")
	cmd.Flags().IntVar(&hours, "hours", 1, "look-back window in hours")
	cmd.Flags().StringVar(&threadTS, "thread", "", "analyze only this thread")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func newWorkspacesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List installed workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := gateway.OpenStore(cfg, setupLogger(config.LoggingConfig{Level: "warn"}, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.Close()

			workspaces, err := s.ListWorkspaces(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing workspaces: %w", err)
			}
			return printWorkspaces(cmd.OutOrStdout(), workspaces)
		},
	}
}

func printWorkspaces(w io.Writer, workspaces []*store.Workspace) error {
	if len(workspaces) == 0 {
		fmt.Fprintln(w, "no workspaces installed")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEAM ID\tNAME\tBOT USER\tINSTALLED")
	for _, ws := range workspaces {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ws.TeamID, ws.TeamName, ws.BotUserID, ws.CreatedAt.Format(time.DateTime))
	}
	return tw.Flush()
}
