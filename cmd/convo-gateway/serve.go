// ABOUTME: serve subcommand: prints the startup banner and runs the gateway until signaled
// ABOUTME: Logging is configured from the loaded config before any component starts

package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/convo-gateway/internal/config"
	"github.com/2389/convo-gateway/internal/gateway"
	"github.com/2389/convo-gateway/internal/logging"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long:  `Start the HTTP API. Runs until interrupted, then shuts down gracefully.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := load()
			if err != nil {
				return err
			}

			printStartup(cmd.OutOrStdout(), cfg, path)

			logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, version, nil)
			logger.Info("starting convo-gateway",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"driver", cfg.Database.Driver,
			)

			gw, err := gateway.New(cmd.Context(), cfg, logger, version)
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
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Database:  %s\n", cfg.Database.Driver)

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
	if cfg.Metrics.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "Metrics:   %s\n", cfg.Metrics.Path)
	}
	if cfg.Auth.RequireActiveUser {
		yellow.Fprintln(w, "    ! tokens of deactivated users are rejected")
	}
	fmt.Fprintln(w)
}
