package redact

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"trustproxy/internal/core"
)

// placeholderPattern matches any placeholder this proxy could have emitted,
// regardless of entity type or counter value.
var placeholderPattern = regexp.MustCompile(`\[CONFIDENTIAL_[A-Z0-9_]+_[0-9]+\]`)

var placeholderTypePattern = regexp.MustCompile(`^\[CONFIDENTIAL_([A-Z0-9_]+)_[0-9]+\]$`)

// PlaceholderEntityType returns the entity type encoded in a placeholder,
// or "UNKNOWN" for anything that is not placeholder-shaped.
func PlaceholderEntityType(placeholder string) string {
	m := placeholderTypePattern.FindStringSubmatch(placeholder)
	if m == nil {
		return "UNKNOWN"
	}
	return m[1]
}

// Restorer substitutes original PII values back in place of placeholders in
// upstream response bodies.
type Restorer struct {
	store core.SessionStore
}

// NewRestorer creates a Restorer backed by the given session store.
func NewRestorer(store core.SessionStore) *Restorer {
	return &Restorer{store: store}
}

// Restore replaces every resolvable placeholder in body with its original
// value from the session store. known lists placeholders allocated during
// this request; the body is additionally scanned for placeholder-shaped
// tokens so that values redacted earlier in the session (or echoed back by
// the model from its own context) are restored too.
//
// Restore is fail-open: placeholders with no mapping, or whose lookup fails,
// are left in place. The client seeing a placeholder token beats the client
// seeing nothing.
func (r *Restorer) Restore(ctx context.Context, body []byte, known []string, sessionID string) []byte {
	if len(body) == 0 {
		return body
	}

	candidates := collectCandidates(body, known)
	if len(candidates) == 0 {
		return body
	}

	isJSON := json.Valid(body)

	restored := string(body)
	misses := 0
	for _, placeholder := range candidates {
		if !strings.Contains(restored, placeholder) {
			continue
		}
		value, ok, err := r.store.GetMapping(ctx, sessionID, placeholder)
		if err != nil {
			slog.Warn("placeholder lookup failed, leaving placeholder in response",
				"session_id", sessionID, "placeholder", placeholder, "error", err)
			misses++
			continue
		}
		if !ok {
			misses++
			continue
		}
		if isJSON {
			// The placeholder sits inside a JSON string literal. Substitute
			// the escaped form of the value so the document stays parseable
			// when the original contained quotes or backslashes.
			value = jsonEscape(value)
		}
		restored = strings.ReplaceAll(restored, placeholder, value)
	}

	if misses > 0 {
		slog.Warn("some placeholders could not be restored",
			"session_id", sessionID, "unresolved", misses)
	}

	return []byte(restored)
}

// collectCandidates merges the known placeholders with every
// placeholder-shaped token found in the body, deduplicated, known first.
func collectCandidates(body []byte, known []string) []string {
	seen := make(map[string]bool, len(known))
	candidates := make([]string, 0, len(known))
	for _, p := range known {
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}
	for _, m := range placeholderPattern.FindAll(body, -1) {
		p := string(m)
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}
	return candidates
}

// jsonEscape returns the JSON string encoding of s without the surrounding
// quotes, suitable for splicing into an existing string literal.
func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
