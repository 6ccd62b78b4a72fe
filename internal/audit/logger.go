package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trustproxy/internal/core"
)

// batchSize is the number of entries flushed at once.
const batchSize = 100

// Recorder accepts gateway events and persists an audit entry for each
// completed request. The noop implementation satisfies it when auditing is
// disabled.
type Recorder interface {
	core.Collector
	Close() error
}

// Logger buffers audit entries and writes them to the store in batches. It
// implements core.Collector so the gateway can feed it stage events; only
// terminal stages produce an entry.
type Logger struct {
	store  Store
	buffer chan *Entry
	done   chan struct{}
	wg     sync.WaitGroup

	flushInterval time.Duration
}

// NewLogger starts the background flush loop and returns the logger.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		buffer:        make(chan *Entry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Record implements core.Collector. Non-terminal stage events are ignored;
// terminal events become entries. Never blocks: when the buffer is full the
// entry is dropped with a warning.
func (l *Logger) Record(event core.Event) {
	switch event.Stage {
	case core.StageReturned, core.StageRejected, core.StageUpstreamFailed:
	default:
		return
	}

	entry := entryFromEvent(event)
	select {
	case l.buffer <- entry:
	default:
		slog.Warn("audit buffer full, dropping entry",
			"request_id", entry.RequestID,
			"host", entry.Host,
		)
	}
}

// Close stops the flush loop, drains the buffer, and closes the store.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, batchSize)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, batchSize)
			}

		case <-l.done:
			// Drain whatever is still queued before shutting down.
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}

// NoopRecorder discards everything. Used when auditing is disabled.
type NoopRecorder struct{}

// Record implements core.Collector.
func (NoopRecorder) Record(core.Event) {}

// Close implements Recorder.
func (NoopRecorder) Close() error { return nil }
