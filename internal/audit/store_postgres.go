package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgresStore connects to PostgreSQL, prepares the schema, and starts
// the retention cleanup loop when retention is configured.
func NewPostgresStore(ctx context.Context, url string, maxConns, retentionDays int) (*PostgresStore, error) {
	if url == "" {
		return nil, fmt.Errorf("postgresql url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgresql url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgresql pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgresql: %w", err)
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS request_audit (
			id UUID PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT DEFAULT 0,
			request_id TEXT,
			session_id TEXT,
			client_ip TEXT,
			host TEXT,
			path TEXT,
			method TEXT,
			status_code INTEGER DEFAULT 0,
			stage TEXT,
			error_type TEXT,
			entity_counts JSONB
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create request_audit table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON request_audit(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_session ON request_audit(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_host ON request_audit(host)",
		"CREATE INDEX IF NOT EXISTS idx_audit_status ON request_audit(status_code)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create audit index", "error", err)
		}
	}

	store := &PostgresStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go runCleanupLoop(store.stopCleanup, store.cleanup)
	}
	return store, nil
}

// WriteBatch implements Store using a single pgx batch round trip.
func (s *PostgresStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO request_audit (id, timestamp, duration_ns, request_id, session_id,
				client_ip, host, path, method, status_code, stage, error_type, entity_counts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.Timestamp, e.DurationNs, e.RequestID, e.SessionID,
			e.ClientIP, e.Host, e.Path, e.Method, e.StatusCode, e.Stage, e.ErrorType,
			marshalEntityCounts(e.EntityCounts, e.ID))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert audit batch: %w", err)
		}
	}
	return nil
}

// Close stops the cleanup loop and closes the pool.
func (s *PostgresStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	s.pool.Close()
	return nil
}

func (s *PostgresStore) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.pool.Exec(ctx, "DELETE FROM request_audit WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to clean up old audit entries", "error", err)
		return
	}
	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old audit entries", "deleted", result.RowsAffected())
	}
}
