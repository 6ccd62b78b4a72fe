package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustproxy/internal/core"
)

// fakeStore collects batches in memory.
type fakeStore struct {
	mu      sync.Mutex
	entries []*Entry
	closed  bool
}

func (s *fakeStore) WriteBatch(_ context.Context, entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *fakeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) snapshot() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func TestLogger_RecordsTerminalEventsOnly(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, Config{BufferSize: 16, FlushInterval: time.Hour})

	l.Record(core.Event{Stage: core.StageReceived, RequestID: "r1"})
	l.Record(core.Event{Stage: core.StageRedacted, RequestID: "r1"})
	l.Record(core.Event{
		Stage:        core.StageReturned,
		RequestID:    "r1",
		SessionID:    "sess-1",
		ClientIP:     "10.1.2.3",
		Host:         "api.openai.com",
		Path:         "/v1/chat/completions",
		Method:       "POST",
		Status:       200,
		Duration:     150 * time.Millisecond,
		Timestamp:    time.Now(),
		EntityCounts: map[string]int{"PERSON": 1},
	})
	l.Record(core.Event{
		Stage:     core.StageRejected,
		RequestID: "r2",
		Status:    403,
		ErrorType: "domain_rejected",
	})

	// Close drains the buffer and flushes.
	require.NoError(t, l.Close())

	entries := store.snapshot()
	require.Len(t, entries, 2)
	assert.True(t, store.closed)

	first := entries[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "r1", first.RequestID)
	assert.Equal(t, "sess-1", first.SessionID)
	assert.Equal(t, "10.1.2.3", first.ClientIP)
	assert.Equal(t, "api.openai.com", first.Host)
	assert.Equal(t, "/v1/chat/completions", first.Path)
	assert.Equal(t, 200, first.StatusCode)
	assert.Equal(t, string(core.StageReturned), first.Stage)
	assert.Equal(t, (150 * time.Millisecond).Nanoseconds(), first.DurationNs)
	assert.Equal(t, map[string]int{"PERSON": 1}, first.EntityCounts)

	second := entries[1]
	assert.Equal(t, "domain_rejected", second.ErrorType)
	assert.Equal(t, string(core.StageRejected), second.Stage)
}

func TestLogger_PeriodicFlush(t *testing.T) {
	store := &fakeStore{}
	l := NewLogger(store, Config{BufferSize: 16, FlushInterval: 20 * time.Millisecond})
	t.Cleanup(func() { _ = l.Close() })

	l.Record(core.Event{Stage: core.StageReturned, RequestID: "r1", Status: 200})

	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNew_DisabledReturnsNoop(t *testing.T) {
	rec, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	_, ok := rec.(NoopRecorder)
	assert.True(t, ok)
	assert.NoError(t, rec.Close())
}

func TestNew_UnknownStorageType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Storage.Type = "cassandra"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
