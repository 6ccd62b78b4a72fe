package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLite caps bindable parameters at 999 per query. With 13 columns per
// entry, chunks of 76 entries stay under the limit.
const (
	maxSQLiteParams    = 999
	columnsPerEntry    = 13
	maxEntriesPerChunk = maxSQLiteParams / columnsPerEntry
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore opens (or creates) the database file, prepares the schema,
// and starts the retention cleanup loop when retention is configured.
func NewSQLiteStore(path string, retentionDays int) (*SQLiteStore, error) {
	if path == "" {
		path = ".cache/trustproxy.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit db directory: %w", err)
	}

	// WAL allows concurrent reads while the flush loop writes.
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS request_audit (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			duration_ns INTEGER DEFAULT 0,
			request_id TEXT,
			session_id TEXT,
			client_ip TEXT,
			host TEXT,
			path TEXT,
			method TEXT,
			status_code INTEGER DEFAULT 0,
			stage TEXT,
			error_type TEXT,
			entity_counts JSON
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create request_audit table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON request_audit(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_session ON request_audit(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_host ON request_audit(host)",
		"CREATE INDEX IF NOT EXISTS idx_audit_status ON request_audit(status_code)",
		"CREATE INDEX IF NOT EXISTS idx_audit_stage ON request_audit(stage)",
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create audit index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}
	if retentionDays > 0 {
		go runCleanupLoop(store.stopCleanup, store.cleanup)
	}
	return store, nil
}

// WriteBatch implements Store, chunking to stay under the parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	for i := 0; i < len(entries); i += maxEntriesPerChunk {
		end := min(i+maxEntriesPerChunk, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerEntry)
		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.DurationNs,
				e.RequestID,
				e.SessionID,
				e.ClientIP,
				e.Host,
				e.Path,
				e.Method,
				e.StatusCode,
				e.Stage,
				e.ErrorType,
				marshalEntityCounts(e.EntityCounts, e.ID),
			)
		}

		query := `INSERT OR IGNORE INTO request_audit (id, timestamp, duration_ns, request_id,
			session_id, client_ip, host, path, method, status_code, stage, error_type, entity_counts) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert audit batch: %w", err)
		}
	}
	return nil
}

// Close stops the cleanup loop and closes the database.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopCleanup) })
	return s.db.Close()
}

func (s *SQLiteStore) cleanup() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339)

	result, err := s.db.Exec("DELETE FROM request_audit WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to clean up old audit entries", "error", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		slog.Info("cleaned up old audit entries", "deleted", n)
	}
}
