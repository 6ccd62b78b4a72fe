package detect

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"trustproxy/internal/core"
)

// CachedDetector memoizes Analyze results from an inner detector. Chat
// payloads resend the full message history on every turn, so identical text
// is analyzed over and over; the cache short-circuits that without changing
// semantics. Keys are xxhash digests, values evict FIFO once the bound is hit.
//
// Only successful analyses are cached: a degraded (unavailable) result must
// stay retryable.
type CachedDetector struct {
	inner core.Detector
	max   int

	mu    sync.RWMutex
	cache map[uint64][]core.DetectedSpan
	order []uint64
}

// NewCachedDetector wraps inner with a bounded result cache.
func NewCachedDetector(inner core.Detector, size int) *CachedDetector {
	return &CachedDetector{
		inner: inner,
		max:   size,
		cache: make(map[uint64][]core.DetectedSpan, size),
	}
}

// Name implements core.Detector, reporting the inner backend's name.
func (d *CachedDetector) Name() string { return d.inner.Name() }

// Analyze implements core.Detector.
func (d *CachedDetector) Analyze(ctx context.Context, text string, entityTypes []string) ([]core.DetectedSpan, error) {
	key := cacheKey(d.inner.Name(), text, entityTypes)

	d.mu.RLock()
	spans, ok := d.cache[key]
	d.mu.RUnlock()
	if ok {
		// Callers may re-sort; hand out a copy.
		out := make([]core.DetectedSpan, len(spans))
		copy(out, spans)
		return out, nil
	}

	spans, err := d.inner.Analyze(ctx, text, entityTypes)
	if err != nil {
		return spans, err
	}

	d.mu.Lock()
	if _, exists := d.cache[key]; !exists {
		if len(d.order) >= d.max {
			oldest := d.order[0]
			d.order = d.order[1:]
			delete(d.cache, oldest)
		}
		stored := make([]core.DetectedSpan, len(spans))
		copy(stored, spans)
		d.cache[key] = stored
		d.order = append(d.order, key)
	}
	d.mu.Unlock()

	return spans, nil
}

// cacheKey digests the backend name, entity filter, and text. The separator
// byte keeps "ab"+"c" and "a"+"bc" from colliding.
func cacheKey(backend, text string, entityTypes []string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(backend)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(len(entityTypes)))
	_, _ = h.WriteString(strings.Join(entityTypes, "\x00"))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(text)
	return h.Sum64()
}
