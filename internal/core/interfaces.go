package core

import "context"

// Detector finds PII spans in text. Implementations must filter results to
// the requested entity types and return non-overlapping spans.
//
// When the underlying backend is unreachable, Analyze returns an empty span
// list together with ErrDetectionUnavailable (wrapped); callers treat this as
// a reduced-accuracy condition, not a failure.
type Detector interface {
	// Analyze returns the PII spans of the given entity types found in text.
	Analyze(ctx context.Context, text string, entityTypes []string) ([]DetectedSpan, error)

	// Name identifies the backend ("remote", "regex") for logging and metrics.
	Name() string
}

// SessionStore is the durable, TTL-backed owner of per-session placeholder
// state. It is the single source of truth shared by all proxy instances;
// implementations must be safe for concurrent use and NextCounter must be
// atomic per (sessionID, entityType).
type SessionStore interface {
	// NextCounter atomically increments and returns the counter for the
	// session and entity type, starting at 1 for an unseen pair. The counter
	// key's TTL is refreshed on every call.
	NextCounter(ctx context.Context, sessionID, entityType string) (int64, error)

	// PutMapping upserts placeholder -> value for the session, refreshing
	// the mapping's TTL.
	PutMapping(ctx context.Context, sessionID, placeholder, value string) error

	// GetMapping returns the original value for a placeholder. A missing
	// mapping (expired or never issued) is ("", false, nil), not an error.
	GetMapping(ctx context.Context, sessionID, placeholder string) (string, bool, error)

	// ClearSession deletes all counters and mappings belonging to a session.
	ClearSession(ctx context.Context, sessionID string) error

	// Close releases the store's resources.
	Close() error
}

// FileExtractor converts uploaded binary content (PDF, CSV, plain text) into
// text for redaction. On extraction failure the returned string is a visible
// diagnostic placeholder and the error describes the cause; callers log the
// error and keep processing with the placeholder text.
type FileExtractor interface {
	Extract(data []byte, filename string) (string, error)
}

// Collector receives telemetry events after each gateway stage transition.
// Record must never block the request path and must never fail it.
type Collector interface {
	Record(event Event)
}

// MultiCollector fans one event out to several collectors.
type MultiCollector []Collector

// Record implements Collector.
func (m MultiCollector) Record(event Event) {
	for _, c := range m {
		c.Record(event)
	}
}
