package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"trustproxy/internal/core"
)

// RemoteDetector calls a Presidio-style analyzer service over HTTP. The
// service performs model-based NER and returns typed character spans.
type RemoteDetector struct {
	baseURL string
	client  *http.Client
}

// NewRemoteDetector creates a detector for the analyzer at baseURL.
// A nil client falls back to http.DefaultClient.
func NewRemoteDetector(baseURL string, client *http.Client) *RemoteDetector {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Name implements core.Detector.
func (d *RemoteDetector) Name() string { return "remote" }

// Probe checks the analyzer's health endpoint. Used once at startup for
// backend selection.
func (d *RemoteDetector) Probe(ctx context.Context, timeout time.Duration) error {
	if d.baseURL == "" {
		return fmt.Errorf("analyzer URL not configured")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analyzer health probe returned status %d", resp.StatusCode)
	}
	return nil
}

// analyzeRequest is the analyzer service's request shape.
type analyzeRequest struct {
	Text     string   `json:"text"`
	Language string   `json:"language"`
	Entities []string `json:"entities,omitempty"`
}

// analyzeResult is a single detection in the analyzer's response.
type analyzeResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Analyze sends text to the analyzer service. An unreachable or failing
// service degrades to an empty span list with ErrDetectionUnavailable
// wrapped, so redaction can pass through instead of failing the request.
func (d *RemoteDetector) Analyze(ctx context.Context, text string, entityTypes []string) ([]core.DetectedSpan, error) {
	if text == "" {
		return nil, nil
	}

	payload, err := json.Marshal(analyzeRequest{
		Text:     text,
		Language: "en",
		Entities: entityTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer unreachable: %w: %w", err, core.ErrDetectionUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for connection reuse, then degrade.
		_, _ = io.CopyN(io.Discard, resp.Body, 1024)
		return nil, fmt.Errorf("analyzer returned status %d: %w", resp.StatusCode, core.ErrDetectionUnavailable)
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode analyzer response: %w: %w", err, core.ErrDetectionUnavailable)
	}

	spans := convertSpans(text, results)
	spans = filterEntities(spans, entityTypes)
	return resolveOverlaps(spans), nil
}

// convertSpans maps analyzer results onto byte-offset spans. The analyzer
// reports character (rune) offsets; Go string slicing is byte-based, so
// offsets are converted through a rune index when the text is not pure ASCII.
// Spans with incoherent offsets are dropped rather than risking a corrupt
// splice.
func convertSpans(text string, results []analyzeResult) []core.DetectedSpan {
	var byteAt []int
	ascii := len(text) == utf8.RuneCountInString(text)
	if !ascii {
		byteAt = make([]int, 0, utf8.RuneCountInString(text)+1)
		for i := range text {
			byteAt = append(byteAt, i)
		}
		byteAt = append(byteAt, len(text))
	}

	spans := make([]core.DetectedSpan, 0, len(results))
	for _, r := range results {
		start, end := r.Start, r.End
		if !ascii {
			if start < 0 || end > len(byteAt)-1 || start >= end {
				continue
			}
			start, end = byteAt[start], byteAt[end]
		}

		span := core.DetectedSpan{
			EntityType: r.EntityType,
			Start:      start,
			End:        end,
			Confidence: r.Score,
		}
		if !span.Valid(len(text)) {
			continue
		}
		spans = append(spans, span)
	}
	return spans
}
