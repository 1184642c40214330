package reports

import (
	"context"

	"github.com/pkg/errors"
)

// Backend names for the store factory
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// StoreConfig selects and locates a report store backend
type StoreConfig struct {
	// Backend is "json" or "sqlite"
	Backend string
	// BasePath is the reports directory for the JSON backend
	BasePath string
	// DBPath is the database file for the SQLite backend
	DBPath string
}

// NewStore creates the configured report store
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case BackendJSON, "":
		return NewJSONStore(cfg.BasePath)
	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.DBPath)
	default:
		return nil, errors.Errorf("unknown report store backend %q: expected json or sqlite", cfg.Backend)
	}
}
