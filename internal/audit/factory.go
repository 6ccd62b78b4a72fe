package audit

import (
	"context"
	"fmt"
	"time"
)

// Storage backend type names.
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// cleanupInterval is how often SQL backends delete expired entries.
const cleanupInterval = 1 * time.Hour

// New builds a Recorder from configuration. Disabled auditing yields a
// NoopRecorder; otherwise the configured storage backend is opened and a
// buffered Logger wraps it. The caller owns the Recorder and must Close it
// during shutdown.
func New(ctx context.Context, cfg Config) (Recorder, error) {
	if !cfg.Enabled {
		return NoopRecorder{}, nil
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	return NewLogger(store, cfg), nil
}

func openStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Storage.Type {
	case TypeSQLite, "":
		return NewSQLiteStore(cfg.Storage.SQLitePath, cfg.RetentionDays)
	case TypePostgreSQL:
		return NewPostgresStore(ctx, cfg.Storage.PostgresURL, cfg.Storage.PostgresMaxConns, cfg.RetentionDays)
	case TypeMongoDB:
		return NewMongoStore(ctx, cfg.Storage.MongoURL, cfg.Storage.MongoDatabase, cfg.RetentionDays)
	default:
		return nil, fmt.Errorf("unknown audit storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Storage.Type)
	}
}

// runCleanupLoop invokes cleanupFn immediately and then on an interval until
// stop is closed.
func runCleanupLoop(stop <-chan struct{}, cleanupFn func()) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	cleanupFn()

	for {
		select {
		case <-ticker.C:
			cleanupFn()
		case <-stop:
			return
		}
	}
}
