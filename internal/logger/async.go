package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

type asyncState struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan slog.Record
	done    chan struct{}
	dropped atomic.Int64
}

// AsyncHandler hands records to a single background writer so slow
// terminals never stall git or agent I/O. A single writer keeps records
// in the order they were logged.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity.
func NewAsyncHandler(inner slog.Handler, size int) *AsyncHandler {
	if size < 1 {
		size = 1
	}
	st := &asyncState{
		ch:   make(chan slog.Record, size),
		done: make(chan struct{}),
	}
	h := &AsyncHandler{inner: inner, state: st}
	go h.drain()
	return h
}

func (h *AsyncHandler) drain() {
	defer close(h.state.done)
	for rec := range h.state.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Records are dropped when the buffer is full
// or after Close.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()

	if h.state.closed {
		h.state.dropped.Add(1)
		return nil
	}
	select {
	case h.state.ch <- rec.Clone():
	default:
		h.state.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same writer but wrapping a new inner handler.
// Attributes are resolved on the inner handler so the writer needs no context.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), state: h.state}
}

// WithGroup returns a handler sharing the same writer but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), state: h.state}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close stops accepting records and waits until the buffer is written.
// It is safe to call more than once.
func (h *AsyncHandler) Close() {
	h.state.mu.Lock()
	if !h.state.closed {
		h.state.closed = true
		close(h.state.ch)
	}
	h.state.mu.Unlock()
	<-h.state.done
}
