// Package core provides shared types, interfaces, and the error taxonomy
// for the PII-anonymizing proxy.
package core

import (
	"fmt"
	"time"
)

// DetectedSpan is a typed character-offset range identified as PII in a text.
// Offsets are byte offsets into the analyzed string with 0 <= Start < End <= len(text).
type DetectedSpan struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Valid reports whether the span offsets are coherent for a text of length n.
func (s DetectedSpan) Valid(n int) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= n
}

// Overlaps reports whether two spans share at least one character position.
func (s DetectedSpan) Overlaps(o DetectedSpan) bool {
	return s.Start < o.End && o.Start < s.End
}

// RedactionResult is the outcome of a single Redact call. Mapping holds only
// the placeholders issued by this call; it is a subset view of the session
// store, and restoration must tolerate entries missing from the store.
type RedactionResult struct {
	RedactedText string            `json:"redacted_text"`
	Mapping      map[string]string `json:"mapping"`
}

// Placeholder builds the wire-format placeholder for an entity type and
// counter value: "[CONFIDENTIAL_{ENTITY_TYPE}_{n}]", n >= 1.
func Placeholder(entityType string, n int64) string {
	return fmt.Sprintf("[CONFIDENTIAL_%s_%d]", entityType, n)
}

// Stage identifies a step in the per-request gateway state machine.
type Stage string

// Gateway request lifecycle stages. REJECTED and UPSTREAM_FAILED are terminal
// early exits; RETURNED is the terminal success state.
const (
	StageReceived         Stage = "RECEIVED"
	StageExtracted        Stage = "EXTRACTED"
	StageRedacted         Stage = "REDACTED"
	StageForwarded        Stage = "FORWARDED"
	StageResponseReceived Stage = "RESPONSE_RECEIVED"
	StageRestored         Stage = "RESTORED"
	StageReturned         Stage = "RETURNED"
	StageRejected         Stage = "REJECTED"
	StageUpstreamFailed   Stage = "UPSTREAM_FAILED"
)

// Event is a telemetry record emitted after each stage transition.
// Events never carry payload text or mapping values.
type Event struct {
	Timestamp time.Time
	RequestID string
	SessionID string
	Stage     Stage
	ClientIP  string
	Host      string
	Path      string
	Method    string
	Status    int
	Duration  time.Duration

	// ErrorType is the ProxyError type for REJECTED and UPSTREAM_FAILED
	// events; empty otherwise.
	ErrorType string

	// EntityCounts holds redacted-entity counts by entity type for
	// REDACTED events; nil otherwise.
	EntityCounts map[string]int
}
