// ABOUTME: health subcommand: probes a running gateway's liveness or readiness endpoint
// ABOUTME: Exits non-zero when the endpoint does not answer 200

package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewHealthCmd creates the health subcommand.
func NewHealthCmd(load configLoader) *cobra.Command {
	var (
		ready bool
		url   string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Long:  `Query /health (or /health/ready with --ready) on a running gateway.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := url
			if base == "" {
				cfg, _, err := load()
				if err != nil {
					return err
				}
				base = "http://" + cfg.Server.HTTPAddr
			}
			endpoint := strings.TrimRight(base, "/") + "/health"
			if ready {
				endpoint += "/ready"
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
			}

			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness instead of liveness")
	cmd.Flags().StringVar(&url, "url", "", "gateway base URL (default from server.http_addr)")

	return cmd
}
