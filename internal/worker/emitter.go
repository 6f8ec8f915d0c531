package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// DefaultEmitterBuffer bounds the events queued between the dispatch loop
// and a slow stream writer.
const DefaultEmitterBuffer = 16

// ErrStreamClosed is returned by Emit after a terminal event was emitted,
// after Close, or once the reader detached.
var ErrStreamClosed = errors.New("progress stream closed")

// Emitter is the ordered, bounded hand-off between one producer (the
// dispatcher) and one reader (the stream writer). Emit blocks while the
// buffer is full; events are never dropped.
//
// Emit and Close must be called from the producer goroutine only.
type Emitter struct {
	events chan domain.ProgressEvent
	done   chan struct{}

	mu        sync.Mutex
	closed    bool
	terminal  bool
	detach    sync.Once
	emitCount int
}

// NewEmitter creates an emitter holding at most buffer undelivered events.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultEmitterBuffer
	}
	return &Emitter{
		events: make(chan domain.ProgressEvent, buffer),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side. It is closed after the terminal event or
// Close.
func (e *Emitter) Events() <-chan domain.ProgressEvent {
	return e.events
}

// Emit queues ev. A terminal event closes the stream behind it.
func (e *Emitter) Emit(ctx context.Context, ev domain.ProgressEvent) error {
	e.mu.Lock()
	if e.closed || e.terminal {
		e.mu.Unlock()
		return ErrStreamClosed
	}
	e.mu.Unlock()

	select {
	case e.events <- ev:
	case <-e.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	e.emitCount++
	if ev.Terminal() {
		e.terminal = true
		e.closeLocked()
	}
	e.mu.Unlock()
	return nil
}

// Close ends the stream without a terminal event. It is idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	e.closeLocked()
	e.mu.Unlock()
}

func (e *Emitter) closeLocked() {
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

// Detach is called by the reader when it stops consuming, e.g. after a
// failed write. Pending and future Emit calls fail with ErrStreamClosed.
func (e *Emitter) Detach() {
	e.detach.Do(func() { close(e.done) })
}

// Emitted returns the number of events accepted so far.
func (e *Emitter) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emitCount
}
