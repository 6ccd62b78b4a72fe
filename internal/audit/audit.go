// Package audit records a per-request trail of what the proxy did, without
// ever storing payload text or placeholder mappings. Entries are buffered in
// memory and written to a configurable storage backend in batches.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustproxy/internal/core"
)

// Store is a storage backend for audit entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// WriteBatch persists a batch of entries. Called by the Logger when
	// flushing its buffer.
	WriteBatch(ctx context.Context, entries []*Entry) error

	// Close stops background work and releases the connection.
	Close() error
}

// Entry is one audited request. It carries routing and outcome metadata
// only: no payload bodies, no extracted text, no placeholder values.
type Entry struct {
	ID         string    `json:"id" bson:"_id"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	DurationNs int64     `json:"duration_ns" bson:"duration_ns"`

	RequestID  string `json:"request_id" bson:"request_id"`
	SessionID  string `json:"session_id" bson:"session_id"`
	ClientIP   string `json:"client_ip,omitempty" bson:"client_ip,omitempty"`
	Host       string `json:"host" bson:"host"`
	Path       string `json:"path" bson:"path"`
	Method     string `json:"method" bson:"method"`
	StatusCode int    `json:"status_code" bson:"status_code"`

	// Stage is the final state machine stage the request reached.
	Stage     string `json:"stage" bson:"stage"`
	ErrorType string `json:"error_type,omitempty" bson:"error_type,omitempty"`

	// EntityCounts holds how many entities of each type were redacted.
	EntityCounts map[string]int `json:"entity_counts,omitempty" bson:"entity_counts,omitempty"`
}

// entryFromEvent builds an Entry from a terminal gateway event.
func entryFromEvent(event core.Event) *Entry {
	return &Entry{
		ID:           uuid.NewString(),
		Timestamp:    event.Timestamp,
		DurationNs:   event.Duration.Nanoseconds(),
		RequestID:    event.RequestID,
		SessionID:    event.SessionID,
		ClientIP:     event.ClientIP,
		Host:         event.Host,
		Path:         event.Path,
		Method:       event.Method,
		StatusCode:   event.Status,
		Stage:        string(event.Stage),
		ErrorType:    event.ErrorType,
		EntityCounts: event.EntityCounts,
	}
}

// marshalEntityCounts serializes counts for the SQL backends. Returns nil
// for an empty map so the column stays NULL.
func marshalEntityCounts(counts map[string]int, id string) any {
	if len(counts) == 0 {
		return nil
	}
	b, err := json.Marshal(counts)
	if err != nil {
		slog.Warn("failed to marshal entity counts", "error", err, "id", id)
		return nil
	}
	return string(b)
}

// Config holds audit trail configuration.
type Config struct {
	// Enabled controls whether auditing is active.
	Enabled bool

	// BufferSize is the number of entries buffered before writes block drop.
	BufferSize int

	// FlushInterval is how often buffered entries are flushed.
	FlushInterval time.Duration

	// RetentionDays is how long entries are kept (0 = forever).
	RetentionDays int

	Storage StorageConfig
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is one of "sqlite", "postgresql", "mongodb".
	Type string

	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string

	// PostgresURL is the connection string for the postgresql backend.
	PostgresURL string
	// PostgresMaxConns bounds the pgx pool size.
	PostgresMaxConns int

	// MongoURL is the connection string for the mongodb backend.
	MongoURL string
	// MongoDatabase is the database name for the mongodb backend.
	MongoDatabase string
}

// DefaultConfig returns the audit defaults used when config is silent.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 30,
		Storage: StorageConfig{
			Type:          TypeSQLite,
			SQLitePath:    ".cache/trustproxy.db",
			MongoDatabase: "trustproxy",
		},
	}
}
