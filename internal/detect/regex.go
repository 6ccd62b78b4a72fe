package detect

import (
	"context"

	"trustproxy/internal/core"
)

// RegexDetector is the built-in low-accuracy fallback. It recognizes
// structured PII formats only; free-form entities (names, locations) are
// beyond it, which is exactly the reduced-accuracy condition logged when the
// analyzer service is down.
type RegexDetector struct {
	patterns []piiPattern
}

// NewRegexDetector creates a detector over the built-in pattern table.
func NewRegexDetector() *RegexDetector {
	return &RegexDetector{patterns: defaultPatterns()}
}

// Name implements core.Detector.
func (d *RegexDetector) Name() string { return "regex" }

// Analyze scans text with each enabled pattern and returns non-overlapping
// spans filtered to the requested entity types. It never fails: an empty
// result simply means nothing matched.
func (d *RegexDetector) Analyze(ctx context.Context, text string, entityTypes []string) ([]core.DetectedSpan, error) {
	if text == "" {
		return nil, nil
	}

	requested := make(map[string]struct{}, len(entityTypes))
	for _, e := range entityTypes {
		requested[e] = struct{}{}
	}

	var spans []core.DetectedSpan
	for _, p := range d.patterns {
		if len(requested) > 0 {
			if _, ok := requested[p.entityType]; !ok {
				continue
			}
		}
		for _, loc := range p.pattern.FindAllStringIndex(text, -1) {
			spans = append(spans, core.DetectedSpan{
				EntityType: p.entityType,
				Start:      loc[0],
				End:        loc[1],
				Confidence: p.confidence,
			})
		}
	}

	return resolveOverlaps(spans), nil
}
