// Package logbatch implements LogBatcher (§4.7): a per-Environment buffer
// that coalesces user log records and flushes them to the host in FIFO
// batches. The buffering and size-threshold discipline are grounded on
// go/protocols/ops/log_write_adapter.go's maxLogSize handling, generalized
// from "discard oversized lines" to "split oversized lines at a code-point
// boundary" per the spec.
package logbatch

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/estuary/apihost/go/apierror"
)

// Level is a log record's severity (§3).
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

// Record is one buffered log line (§3).
type Record struct {
	TimestampMicros int64
	Level           Level
	Message         []byte
}

// Flusher persists one ordered batch of Records, e.g. by issuing a
// logservice RPC through the Dispatcher. Flush blocks until the host has
// acknowledged the batch.
type Flusher interface {
	FlushBatch(batch []Record) error
}

// defaultBytesBeforeFlush, defaultMaxLineSize are the §6 defaults.
const (
	defaultBytesBeforeFlush = 100 * 1024
	defaultMaxLineSize      = 16 * 1024
)

// Config configures a Batcher's flush thresholds (§4.7, §6).
type Config struct {
	BytesBeforeFlush int           // 0 uses the default of 100 KiB.
	MaxLineSize      int           // 0 uses the default of 16 KiB.
	MaxFlushAge      time.Duration // 0 = flush-on-add (online); nonzero for offline/backend requests.
}

// Batcher buffers log records and flushes them in FIFO order (§4.7). The
// zero value is not usable; construct with New.
type Batcher struct {
	cfg     Config
	flusher Flusher

	flushMu sync.Mutex // Serializes Flush calls, so batches reach flusher in order.

	mu       sync.Mutex
	buffered []Record
	bufBytes int
	oldestAt time.Time
	closed   bool
}

// New constructs a Batcher flushing through flusher, applying cfg's
// thresholds (zero fields fall back to the §6 defaults).
func New(flusher Flusher, cfg Config) *Batcher {
	if cfg.BytesBeforeFlush <= 0 {
		cfg.BytesBeforeFlush = defaultBytesBeforeFlush
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = defaultMaxLineSize
	}
	return &Batcher{cfg: cfg, flusher: flusher}
}

// AddRecord appends message at level, splitting it at a code-point boundary
// if it exceeds the configured max-line-size, then flushes automatically if
// the byte threshold or flush-age trigger fires (§4.7).
func (b *Batcher) AddRecord(level Level, timestampMicros int64, message []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return &apierror.IllegalState{Detail: "log batch is closed"}
	}

	for _, chunk := range splitAtRuneBoundary(message, b.cfg.MaxLineSize) {
		if len(b.buffered) == 0 {
			b.oldestAt = time.Now()
		}
		b.buffered = append(b.buffered, Record{TimestampMicros: timestampMicros, Level: level, Message: chunk})
		b.bufBytes += len(chunk)
	}

	var shouldFlush = b.bufBytes >= b.cfg.BytesBeforeFlush ||
		b.cfg.MaxFlushAge == 0 ||
		(len(b.buffered) > 0 && time.Since(b.oldestAt) >= b.cfg.MaxFlushAge)
	b.mu.Unlock()

	if shouldFlush {
		return b.Flush()
	}
	return nil
}

// Flush blocks until the currently buffered batch has been persisted. A
// concurrent Flush while one is already in flight waits for the earlier call
// to finish draining the buffer it captured; Flush never reorders records.
func (b *Batcher) Flush() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.buffered) == 0 {
		b.mu.Unlock()
		return nil
	}
	var batch = b.buffered
	b.buffered = nil
	b.bufBytes = 0
	b.mu.Unlock()

	return b.flusher.FlushBatch(batch)
}

// Close flushes any remaining records and marks the Batcher closed; further
// AddRecord calls fail with IllegalState (§7).
func (b *Batcher) Close() error {
	var err = b.Flush()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return err
}

// splitAtRuneBoundary splits message into chunks of at most maxLen bytes,
// never inside a UTF-8 code point, matching the spec's "split at a
// code-point boundary" (§4.7).
func splitAtRuneBoundary(message []byte, maxLen int) [][]byte {
	if len(message) <= maxLen {
		return [][]byte{message}
	}

	var chunks [][]byte
	for len(message) > maxLen {
		var cut = maxLen
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen // Pathological: no boundary found; cut hard rather than loop forever.
		}
		chunks = append(chunks, message[:cut])
		message = message[cut:]
	}
	if len(message) > 0 {
		chunks = append(chunks, message)
	}
	return chunks
}
