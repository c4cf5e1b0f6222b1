// ABOUTME: Entry point for slack-pulse, the Slack sentiment and mention bot
// ABOUTME: Builds the cobra command tree and resolves the config path

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/slack-pulse/internal/config"
)

// version is set with -ldflags "-X main.version=..." at release time.
var version = "dev"

// configPath resolves the config file.
// Priority: --config flag > PULSE_CONFIG env var > XDG_CONFIG_HOME/pulse/gateway.yaml > ~/.config/pulse/gateway.yaml
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if envPath := os.Getenv("PULSE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "pulse", "gateway.yaml")
}

type rootOptions struct {
	configFlag string
	envFile    string
}

func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := configPath(o.configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "slack-pulse",
		Short:         "Slack bot that answers mentions and reports channel sentiment",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal in production.
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", opts.envFile, err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configFlag, "config", "c", "", "config file (default $PULSE_CONFIG or $XDG_CONFIG_HOME/pulse/gateway.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(
		newServeCmd(opts),
		newHealthCmd(opts),
		newTokenCmd(opts),
		newAnalyzeCmd(opts),
		newWorkspacesCmd(opts),
	)
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
