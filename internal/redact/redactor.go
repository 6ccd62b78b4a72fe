// Package redact implements reversible PII tokenization: the Redactor swaps
// detected spans for session-scoped placeholders, the Restorer swaps them
// back using the session store.
package redact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"trustproxy/internal/core"
)

// Redactor rewrites text by replacing detected PII spans with placeholders.
// It is stateless: all durable state lives in the session store, so any
// number of Redactors (across processes) can serve the same session.
type Redactor struct {
	detector core.Detector
	store    core.SessionStore
	entities []string
}

// New creates a Redactor that detects the given entity types.
func New(detector core.Detector, store core.SessionStore, entities []string) *Redactor {
	return &Redactor{
		detector: detector,
		store:    store,
		entities: entities,
	}
}

// Redact replaces every detected PII span in text with a freshly allocated
// placeholder and records the reverse mapping in the session store.
//
// Detection failure is a reduced-accuracy condition: the text passes through
// unchanged with an empty mapping. A session store failure, by contrast,
// aborts the call: once spans are detected we never forward text whose
// mapping could not be persisted.
func (r *Redactor) Redact(ctx context.Context, text, sessionID string) (core.RedactionResult, error) {
	result := core.RedactionResult{
		RedactedText: text,
		Mapping:      map[string]string{},
	}

	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	spans, err := r.detector.Analyze(ctx, text, r.entities)
	if err != nil {
		slog.Warn("pii detection unavailable, passing text through unredacted",
			"backend", r.detector.Name(),
			"session_id", sessionID,
			"error", err)
		return result, nil
	}
	if len(spans) == 0 {
		return result, nil
	}

	// Splice from the end of the string toward the beginning so earlier
	// offsets stay valid after each replacement. This ordering is a
	// correctness requirement, not an optimization.
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start > spans[j].Start })

	redacted := text
	for _, span := range spans {
		if !span.Valid(len(text)) {
			slog.Warn("dropping invalid detection span",
				"entity_type", span.EntityType, "start", span.Start, "end", span.End)
			continue
		}

		value := text[span.Start:span.End]

		n, err := r.store.NextCounter(ctx, sessionID, span.EntityType)
		if err != nil {
			return result, fmt.Errorf("failed to allocate placeholder counter: %w", err)
		}
		placeholder := core.Placeholder(span.EntityType, n)

		if err := r.store.PutMapping(ctx, sessionID, placeholder, value); err != nil {
			return result, fmt.Errorf("failed to persist placeholder mapping: %w", err)
		}

		redacted = redacted[:span.Start] + placeholder + redacted[span.End:]
		result.Mapping[placeholder] = value
	}

	result.RedactedText = redacted

	slog.Info("redacted pii entities",
		"session_id", sessionID,
		"count", len(result.Mapping),
		"backend", r.detector.Name())

	return result, nil
}
