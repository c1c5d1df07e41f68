// ABOUTME: Backend selection for the configured database driver
// ABOUTME: Returns a ready, migrated Store for sqlite or postgres

package store

import (
	"context"
	"fmt"

	"github.com/2389/convo-gateway/internal/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		s, err := NewSQLiteStore(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := OpenPostgres(ctx, cfg.DSN, cfg.ConnectRetries)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
