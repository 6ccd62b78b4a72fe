// Package extract turns uploaded files into plain text for PII analysis.
package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// Extractor converts file uploads to analyzable text. Extraction failures are
// non-fatal: the returned text is a visible diagnostic placeholder and the
// error describes why, so callers can log it and keep processing.
type Extractor struct{}

// New returns a file text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text content of data, dispatching on the filename
// extension. On failure the returned string is a diagnostic placeholder that
// flows through the request instead of the file content.
func (e *Extractor) Extract(data []byte, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		text, err := extractPDF(data)
		if err != nil {
			return diagnostic("unreadable pdf"), fmt.Errorf("pdf extraction: %w", err)
		}
		return text, nil
	case ".csv":
		text, err := extractCSV(data)
		if err != nil {
			return diagnostic("unreadable csv"), fmt.Errorf("csv extraction: %w", err)
		}
		return text, nil
	case ".xlsx", ".xls":
		return diagnostic("spreadsheet format not supported"),
			fmt.Errorf("unsupported spreadsheet upload %q", filename)
	default:
		if !utf8.Valid(data) {
			return diagnostic("binary content"),
				fmt.Errorf("file %q is not valid utf-8 text", filename)
		}
		return string(data), nil
	}
}

func extractPDF(data []byte) (_ string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

// extractCSV renders records as "field: value" lines so column context
// survives into the analyzed text.
func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	var b strings.Builder
	for _, row := range records[1:] {
		for i, field := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			if i < len(header) {
				b.WriteString(header[i])
				b.WriteString(": ")
			}
			b.WriteString(field)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		// Header-only file: fall back to the raw header line.
		return strings.Join(header, ", "), nil
	}
	return b.String(), nil
}

func diagnostic(reason string) string {
	return fmt.Sprintf("[file extraction failed: %s]", reason)
}
