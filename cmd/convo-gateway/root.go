// ABOUTME: Root cobra command and config loading shared by every subcommand
// ABOUTME: --config overrides CONVO_CONFIG and the XDG default location

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/2389/convo-gateway/internal/config"
)

const banner = `
  ___ ___  _ ___   _____     __ _  __ _| |_ _____      ____ _ _   _
 / __/ _ \| '_ \ \ / / _ \  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| (_) | | | \ V / (_) || (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___\___/|_| |_|\_/ \___/  \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                            |___/                             |___/
`

// NewRootCmd creates the root command for the convo-gateway CLI.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "convo-gateway",
		Short: "convo-gateway - multi-tenant conversation API",
		Long: `convo-gateway serves a JSON API where each account manages its own
agents, conversations and messages behind bearer-token authentication.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $CONVO_CONFIG or ~/.config/convo/gateway.yaml)")

	load := func() (*config.Config, string, error) {
		path := configFile
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, path, fmt.Errorf("loading config: %w", err)
		}
		return cfg, path, nil
	}

	cmd.AddCommand(NewServeCmd(load))
	cmd.AddCommand(NewInitCmd(func() string {
		if configFile != "" {
			return configFile
		}
		return config.DefaultPath()
	}))
	cmd.AddCommand(NewMigrateCmd(load))
	cmd.AddCommand(NewHealthCmd(load))
	cmd.AddCommand(NewUsersCmd(load))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// configLoader loads the config selected by the root flags and returns its path.
type configLoader func() (*config.Config, string, error)

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
