package server

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxDecompressedSize caps decoded response bodies (compression bomb guard).
const maxDecompressedSize = 16 * 1024 * 1024

// decompressBody decodes a response body according to Content-Encoding so
// placeholder restoration can see the text. Returns the original body
// unchanged when no decoding is needed or when decoding fails. Supports
// gzip, deflate, and brotli.
func decompressBody(body []byte, contentEncoding string) ([]byte, bool) {
	if len(body) == 0 || contentEncoding == "" {
		return body, false
	}

	// "gzip, deflate" style lists apply encodings in order; in practice
	// upstreams send one, so decode the first.
	encoding := strings.ToLower(strings.TrimSpace(strings.Split(contentEncoding, ",")[0]))
	if encoding == "" || encoding == "identity" {
		return body, false
	}

	var reader io.ReadCloser
	var err error
	switch encoding {
	case "gzip":
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		reader = flate.NewReader(bytes.NewReader(body))
	case "br":
		reader = io.NopCloser(brotli.NewReader(bytes.NewReader(body)))
	default:
		return body, false
	}
	if err != nil {
		return body, false
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(io.LimitReader(reader, maxDecompressedSize))
	if err != nil {
		return body, false
	}
	return decompressed, true
}
