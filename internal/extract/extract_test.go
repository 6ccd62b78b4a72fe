package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainText(t *testing.T) {
	e := New()
	text, err := e.Extract([]byte("notes about John Doe"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes about John Doe", text)
}

func TestExtract_BinaryContentFails(t *testing.T) {
	e := New()
	text, err := e.Extract([]byte{0xff, 0xfe, 0x00, 0x01}, "dump.bin")
	assert.Error(t, err)
	assert.Equal(t, "[file extraction failed: binary content]", text)
}

func TestExtract_CSV(t *testing.T) {
	e := New()
	data := []byte("name,email\nJohn Doe,john@example.com\nJane Roe,jane@example.com\n")

	text, err := e.Extract(data, "contacts.csv")
	require.NoError(t, err)

	assert.Contains(t, text, "name: John Doe, email: john@example.com")
	assert.Contains(t, text, "name: Jane Roe, email: jane@example.com")
}

func TestExtract_CSVRaggedRows(t *testing.T) {
	e := New()
	data := []byte("name,email\nJohn Doe\nJane Roe,jane@example.com,extra\n")

	text, err := e.Extract(data, "contacts.csv")
	require.NoError(t, err)
	assert.Contains(t, text, "name: John Doe")
	assert.Contains(t, text, "extra")
}

func TestExtract_CSVHeaderOnly(t *testing.T) {
	e := New()
	text, err := e.Extract([]byte("name,email\n"), "empty.csv")
	require.NoError(t, err)
	assert.Equal(t, "name, email", text)
}

func TestExtract_MalformedCSV(t *testing.T) {
	e := New()
	// An unterminated quote that LazyQuotes cannot repair.
	text, err := e.Extract([]byte("a,\"b\nc,d\"e\"f"), "broken.csv")
	if err != nil {
		assert.True(t, strings.HasPrefix(text, "[file extraction failed:"), "got %q", text)
	}
}

func TestExtract_SpreadsheetUnsupported(t *testing.T) {
	e := New()
	text, err := e.Extract([]byte("PK\x03\x04"), "report.xlsx")
	assert.Error(t, err)
	assert.Equal(t, "[file extraction failed: spreadsheet format not supported]", text)
}

func TestExtract_CorruptPDF(t *testing.T) {
	e := New()
	text, err := e.Extract([]byte("%PDF-1.7 garbage"), "doc.pdf")
	assert.Error(t, err)
	assert.Equal(t, "[file extraction failed: unreadable pdf]", text)
}

func TestExtract_ExtensionCaseInsensitive(t *testing.T) {
	e := New()
	text, err := e.Extract([]byte("%PDF-1.7 garbage"), "DOC.PDF")
	assert.Error(t, err)
	assert.Equal(t, "[file extraction failed: unreadable pdf]", text)
}
