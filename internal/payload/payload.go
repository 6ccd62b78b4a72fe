// Package payload extracts user-visible text from heterogeneous request
// bodies and reinserts redacted text into the same structural positions.
package payload

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Kind classifies the recognized body shape.
type Kind string

const (
	// KindMessages is a chat completion body with a messages array.
	KindMessages Kind = "messages"
	// KindPrompt is a flat completion body with a top-level prompt string.
	KindPrompt Kind = "prompt"
	// KindRaw is anything else, treated as one opaque text blob.
	KindRaw Kind = "raw"
	// KindFileText is text pre-extracted from an uploaded file.
	KindFileText Kind = "file"
)

// location records where a part was extracted from within a messages array.
// partIndex is -1 when the message content is a plain string rather than a
// typed part list.
type location struct {
	messageIndex int
	partIndex    int
}

// Extraction holds the text parts pulled from a request body together with
// enough structure to write redacted parts back into place.
type Extraction struct {
	Kind  Kind
	Parts []string

	doc       map[string]any
	locations []location
	raw       []byte
}

// Extract pulls the user-visible text out of body. Chat bodies yield one part
// per message content (and per type=="text" part for multi-part content),
// prompt bodies yield a single part, and everything else, including malformed
// JSON, degrades to a single raw-text part. Extract never rejects a body.
func Extract(body []byte, contentType string) (*Extraction, error) {
	if json.Valid(body) {
		if gjson.GetBytes(body, "messages").IsArray() {
			if ex, ok := extractMessages(body); ok {
				return ex, nil
			}
		}
		if gjson.GetBytes(body, "prompt").Type == gjson.String {
			if ex, ok := extractPrompt(body); ok {
				return ex, nil
			}
		}
	}

	ex := &Extraction{Kind: KindRaw, raw: body}
	if len(body) > 0 {
		ex.Parts = []string{string(body)}
	}
	return ex, nil
}

// FromFileText wraps text already extracted from an uploaded file.
func FromFileText(text string) *Extraction {
	return &Extraction{Kind: KindFileText, Parts: []string{text}}
}

func extractMessages(body []byte) (*Extraction, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}
	messages, ok := doc["messages"].([]any)
	if !ok {
		return nil, false
	}

	ex := &Extraction{Kind: KindMessages, doc: doc, raw: body}
	for i, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			ex.Parts = append(ex.Parts, content)
			ex.locations = append(ex.locations, location{messageIndex: i, partIndex: -1})
		case []any:
			for j, p := range content {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if t, _ := part["type"].(string); t != "text" {
					continue
				}
				text, ok := part["text"].(string)
				if !ok {
					continue
				}
				ex.Parts = append(ex.Parts, text)
				ex.locations = append(ex.locations, location{messageIndex: i, partIndex: j})
			}
		}
	}
	return ex, true
}

func extractPrompt(body []byte) (*Extraction, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}
	prompt, ok := doc["prompt"].(string)
	if !ok {
		return nil, false
	}
	return &Extraction{
		Kind:  KindPrompt,
		Parts: []string{prompt},
		doc:   doc,
		raw:   body,
	}, true
}

// Reassemble writes the redacted parts back into the positions they were
// extracted from and serializes the result. redactedParts must be positional:
// element i replaces Parts[i].
func (ex *Extraction) Reassemble(redactedParts []string) ([]byte, error) {
	if len(redactedParts) != len(ex.Parts) {
		return nil, fmt.Errorf("got %d redacted parts for %d extracted parts",
			len(redactedParts), len(ex.Parts))
	}

	switch ex.Kind {
	case KindRaw:
		if len(redactedParts) == 0 {
			return ex.raw, nil
		}
		return []byte(redactedParts[0]), nil

	case KindFileText:
		return []byte(redactedParts[0]), nil

	case KindPrompt:
		ex.doc["prompt"] = redactedParts[0]
		return json.Marshal(ex.doc)

	case KindMessages:
		messages := ex.doc["messages"].([]any)
		for i, loc := range ex.locations {
			msg := messages[loc.messageIndex].(map[string]any)
			if loc.partIndex < 0 {
				msg["content"] = redactedParts[i]
				continue
			}
			parts := msg["content"].([]any)
			part := parts[loc.partIndex].(map[string]any)
			part["text"] = redactedParts[i]
		}
		return json.Marshal(ex.doc)

	default:
		return nil, fmt.Errorf("unknown extraction kind %q", ex.Kind)
	}
}
