package calllog

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const maxDetailLen = 500

// Record is the payload of one structured call event.
type Record map[string]any

type eventWriter interface {
	InsertEvent(Event) error
}

// Logger writes call records asynchronously via a buffered channel. Failures
// are logged and swallowed so callers never handle logging errors inline.
// All methods are nil-safe (no-op on nil receiver).
type Logger struct {
	store eventWriter
	ch    chan Event
	done  chan struct{}
}

// NewLogger creates a best-effort sink backed by store. Must call Close when done.
func NewLogger(store *Store) *Logger {
	if store == nil {
		return nil
	}
	return newLogger(store)
}

func newLogger(store eventWriter) *Logger {
	l := &Logger{
		store: store,
		ch:    make(chan Event, 64),
		done:  make(chan struct{}),
	}
	go l.drain()
	return l
}

func (l *Logger) drain() {
	defer close(l.done)
	for ev := range l.ch {
		if err := l.store.InsertEvent(ev); err != nil {
			slog.Warn("call log write failed", "call_id", ev.CallID, "kind", ev.Kind, "error", err)
		}
	}
}

// Event records a structured event for a call.
func (l *Logger) Event(callID string, rec Record) {
	if l == nil {
		return
	}
	l.enqueue(callID, "event", rec)
}

// Error records an error for a call.
func (l *Logger) Error(callID string, err error, detail string) {
	if l == nil {
		return
	}
	rec := Record{"detail": truncate(detail, maxDetailLen)}
	if err != nil {
		rec["error"] = truncate(err.Error(), maxDetailLen)
	}
	l.enqueue(callID, "error", rec)
}

func (l *Logger) enqueue(callID, kind string, rec Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("call log marshal failed", "call_id", callID, "error", err)
		return
	}
	ev := Event{
		ID:        uuid.NewString(),
		CallID:    callID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	select {
	case l.ch <- ev:
	default:
		// Drop rather than block a webhook response on a slow log store.
		slog.Warn("call log buffer full, dropping record", "call_id", callID, "kind", kind)
	}
}

// Close drains pending writes and stops the background goroutine.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	close(l.ch)
	<-l.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
