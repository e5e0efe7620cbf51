package db

import (
	"context"
	"fmt"
)

// Open returns the store for driver, or nil for "none".
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		store, err := OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite %s: %w", path, err)
		}
		return store, nil
	case "postgres":
		store, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
