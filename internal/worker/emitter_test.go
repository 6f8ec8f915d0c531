package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

func TestEmitterPreservesOrderAndClosesOnTerminal(t *testing.T) {
	e := NewEmitter(8)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, domain.NewStartEvent(domain.StartPayload{TotalRecipients: 1, TotalBatches: 1})))
	require.NoError(t, e.Emit(ctx, domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 1, TotalBatches: 1, BatchSize: 1})))
	require.NoError(t, e.Emit(ctx, domain.NewCompleteEvent(1, 0)))

	err := e.Emit(ctx, domain.NewWaitingEvent(1))
	assert.ErrorIs(t, err, ErrStreamClosed, "nothing may follow a terminal event")
	assert.ErrorIs(t, e.Emit(ctx, domain.NewErrorEvent("late")), ErrStreamClosed)

	var got []domain.EventType
	for ev := range e.Events() {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventStart, domain.EventBatchStart, domain.EventComplete}, got)
	assert.Equal(t, 3, e.Emitted())
}

func TestEmitterBlocksWhenFull(t *testing.T) {
	e := NewEmitter(1)
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, domain.NewWaitingEvent(3)))

	done := make(chan error, 1)
	go func() { done <- e.Emit(ctx, domain.NewWaitingEvent(2)) }()

	select {
	case <-done:
		t.Fatal("Emit returned while the buffer was full")
	case <-time.After(50 * time.Millisecond):
	}

	ev := <-e.Events()
	assert.Equal(t, 3, ev.Data.(domain.WaitingPayload).SecondsRemaining)
	require.NoError(t, <-done)

	ev = <-e.Events()
	assert.Equal(t, 2, ev.Data.(domain.WaitingPayload).SecondsRemaining)
}

func TestEmitterDetachUnblocksProducer(t *testing.T) {
	e := NewEmitter(1)
	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, domain.NewWaitingEvent(2)))

	done := make(chan error, 1)
	go func() { done <- e.Emit(ctx, domain.NewWaitingEvent(1)) }()

	e.Detach()
	assert.ErrorIs(t, <-done, ErrStreamClosed)
}

func TestEmitterContextCancel(t *testing.T) {
	e := NewEmitter(1)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Emit(ctx, domain.NewWaitingEvent(2)))

	cancel()
	assert.ErrorIs(t, e.Emit(ctx, domain.NewWaitingEvent(1)), context.Canceled)
}

func TestEmitterClose(t *testing.T) {
	e := NewEmitter(0)
	e.Close()
	e.Close()

	_, open := <-e.Events()
	assert.False(t, open)
	assert.ErrorIs(t, e.Emit(context.Background(), domain.NewWaitingEvent(1)), ErrStreamClosed)
}
