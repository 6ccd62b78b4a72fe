// Package detect provides pluggable PII span detection.
//
// Two backends implement the same contract: a remote, model-based analyzer
// service (high accuracy) and a built-in regex table (low accuracy fallback).
// The backend is chosen once at startup via an explicit capability probe,
// never per call and never by runtime type inspection.
package detect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"trustproxy/internal/core"
)

// Mode selects the detection backend.
const (
	ModeAuto   = "auto"   // probe the analyzer, fall back to regex
	ModeRemote = "remote" // require the analyzer service
	ModeRegex  = "regex"  // force the built-in regex detector
)

// Config holds detector selection configuration.
type Config struct {
	// Mode is one of "auto", "remote", "regex".
	Mode string

	// AnalyzerURL is the base URL of the analyzer service (remote mode).
	AnalyzerURL string

	// ProbeTimeout bounds the startup capability probe.
	ProbeTimeout time.Duration

	// CacheSize bounds the detection result cache; 0 disables caching.
	CacheSize int
}

// Select performs the startup capability probe and returns the detector to
// use for the lifetime of the process. In auto mode an unreachable analyzer
// demotes detection to the regex fallback with a warning; only an explicit
// remote mode treats that as a startup failure.
func Select(ctx context.Context, cfg Config, client *http.Client) (core.Detector, error) {
	var d core.Detector

	switch cfg.Mode {
	case ModeRegex:
		d = NewRegexDetector()
		slog.Info("pii detector selected", "backend", d.Name(), "reason", "configured")

	case ModeRemote:
		remote := NewRemoteDetector(cfg.AnalyzerURL, client)
		if err := remote.Probe(ctx, cfg.ProbeTimeout); err != nil {
			return nil, fmt.Errorf("analyzer service required but unavailable: %w", err)
		}
		d = remote
		slog.Info("pii detector selected", "backend", d.Name(), "analyzer_url", cfg.AnalyzerURL)

	case ModeAuto, "":
		remote := NewRemoteDetector(cfg.AnalyzerURL, client)
		if cfg.AnalyzerURL != "" && remote.Probe(ctx, cfg.ProbeTimeout) == nil {
			d = remote
			slog.Info("pii detector selected", "backend", d.Name(), "analyzer_url", cfg.AnalyzerURL)
		} else {
			d = NewRegexDetector()
			slog.Warn("analyzer service unavailable, using regex fallback",
				"backend", d.Name(),
				"impact", "reduced detection accuracy")
		}

	default:
		return nil, fmt.Errorf("unknown detector mode %q", cfg.Mode)
	}

	if cfg.CacheSize > 0 {
		d = NewCachedDetector(d, cfg.CacheSize)
	}
	return d, nil
}

// resolveOverlaps reduces a span set to non-overlapping spans before they
// reach the redactor. Preference order: higher confidence, then longer span,
// then earlier start. The survivors come back sorted by start ascending.
func resolveOverlaps(spans []core.DetectedSpan) []core.DetectedSpan {
	if len(spans) <= 1 {
		return spans
	}

	ranked := make([]core.DetectedSpan, len(spans))
	copy(ranked, spans)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		li, lj := ranked[i].End-ranked[i].Start, ranked[j].End-ranked[j].Start
		if li != lj {
			return li > lj
		}
		return ranked[i].Start < ranked[j].Start
	})

	var kept []core.DetectedSpan
	for _, candidate := range ranked {
		conflict := false
		for _, k := range kept {
			if candidate.Overlaps(k) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, candidate)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// filterEntities drops spans whose type is not in the requested set.
// An empty request set means no filtering.
func filterEntities(spans []core.DetectedSpan, entityTypes []string) []core.DetectedSpan {
	if len(entityTypes) == 0 {
		return spans
	}
	allowed := make(map[string]struct{}, len(entityTypes))
	for _, e := range entityTypes {
		allowed[e] = struct{}{}
	}
	var out []core.DetectedSpan
	for _, s := range spans {
		if _, ok := allowed[s.EntityType]; ok {
			out = append(out, s)
		}
	}
	return out
}
