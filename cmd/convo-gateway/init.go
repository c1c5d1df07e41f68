// ABOUTME: init subcommand: writes a starter config file with a freshly generated signing secret
// ABOUTME: Refuses to overwrite an existing file unless --force is given

package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/convo-gateway/internal/config"
)

// initOptions are the values written into a generated config.
type initOptions struct {
	HTTPAddr string
	Driver   string
	DBPath   string
	DSN      string
	Secret   string
	Metrics  bool
}

// NewInitCmd creates the init subcommand. path resolves the output file.
func NewInitCmd(path func() string) *cobra.Command {
	opts := initOptions{}
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new config file",
		Long: `Write a config file with a random 32-byte JWT secret. The file is
validated before it is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := path()
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}

			secret, err := generateSecret()
			if err != nil {
				return err
			}
			opts.Secret = secret
			if opts.Driver == config.DriverSQLite && opts.DBPath == "" {
				opts.DBPath = filepath.Join(config.DefaultDataPath(), "gateway.db")
			}

			content := renderConfig(opts)
			if _, err := config.Parse([]byte(content), false); err != nil {
				return fmt.Errorf("generated config is invalid: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(out, []byte(content), 0600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}
			if opts.Driver == config.DriverSQLite {
				if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
					return fmt.Errorf("creating data directory: %w", err)
				}
			}

			w := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintf(w, "  ✓ Created config: %s\n", out)
			fmt.Fprintln(w)
			color.New(color.FgYellow).Fprintln(w, "  Ready to go:")
			fmt.Fprintln(w, "    convo-gateway migrate   # create the schema")
			fmt.Fprintln(w, "    convo-gateway serve     # start the gateway")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", config.DefaultHTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.Driver, "driver", config.DriverSQLite, "database driver (sqlite, postgres)")
	cmd.Flags().StringVar(&opts.DBPath, "db-path", "", "SQLite database path (default in the XDG data dir)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "PostgreSQL connection string")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "enable the Prometheus endpoint")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

// generateSecret returns 32 random bytes, base64 encoded.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func renderConfig(opts initOptions) string {
	var b strings.Builder
	b.WriteString("# convo-gateway configuration\n")
	b.WriteString("# Generated by convo-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", opts.HTTPAddr)
	b.WriteString("  read_header_timeout: \"10s\"\n")
	b.WriteString("  shutdown_timeout: \"10s\"\n\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  driver: %q\n", opts.Driver)
	if opts.Driver == config.DriverPostgres {
		fmt.Fprintf(&b, "  dsn: %q\n", opts.DSN)
	} else {
		fmt.Fprintf(&b, "  path: %q\n", opts.DBPath)
	}
	b.WriteString("\n")

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n", opts.Secret)
	fmt.Fprintf(&b, "  bcrypt_cost: %d\n", config.DefaultBcryptCost)
	b.WriteString("  require_active_user: false\n\n")

	b.WriteString("logging:\n")
	b.WriteString("  level: \"info\"\n")
	b.WriteString("  format: \"text\"\n\n")

	b.WriteString("metrics:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", opts.Metrics)
	fmt.Fprintf(&b, "  path: %q\n", config.DefaultMetricsPath)

	return b.String()
}
