package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

func startedTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker(10)
	require.NoError(t, tr.Submit())
	require.NoError(t, tr.Apply(domain.NewStartEvent(domain.StartPayload{TotalRecipients: 125, TotalBatches: 3, BatchSize: 50})))
	return tr
}

func TestTrackerHappyPath(t *testing.T) {
	tr := NewTracker(50)
	assert.Equal(t, StateReady, tr.State())

	require.NoError(t, tr.Submit())
	assert.Equal(t, StateSending, tr.State())

	events := []domain.ProgressEvent{
		domain.NewStartEvent(domain.StartPayload{TotalRecipients: 125, TotalBatches: 3, BatchSize: 50}),
		domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 1, TotalBatches: 3, BatchSize: 50}),
		domain.NewBatchCompleteEvent(domain.BatchCompletePayload{Batch: 1, Sent: 50, TotalSent: 50, MessageID: "m-1"}),
		domain.NewWaitingEvent(2),
		domain.NewWaitingEvent(1),
		domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 2, TotalBatches: 3, BatchSize: 50}),
		domain.NewBatchErrorEvent(domain.BatchErrorPayload{Batch: 2, Sent: 48, Failed: 2, TotalSent: 98, TotalFailed: 2, Error: "rejected"}),
		domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 3, TotalBatches: 3, BatchSize: 25}),
		domain.NewBatchCompleteEvent(domain.BatchCompletePayload{Batch: 3, Sent: 25, TotalSent: 123, TotalFailed: 2}),
		domain.NewCompleteEvent(123, 2),
	}
	for _, ev := range events {
		require.NoError(t, tr.Apply(ev), "event %s", ev.Type)
	}

	snap := tr.Snapshot()
	assert.Equal(t, StateComplete, snap.State)
	assert.Equal(t, 123, snap.TotalSent)
	assert.Equal(t, 2, snap.TotalFailed)
	assert.Equal(t, 3, snap.CurrentBatch)
	assert.Equal(t, 100.0, snap.Percent())

	// One waiting entry per gap, failures are never dropped from the log
	var msgs []string
	for _, e := range snap.Log {
		msgs = append(msgs, e.Message)
	}
	assert.Contains(t, msgs, "Waiting 2s before batch 2")
	assert.NotContains(t, msgs, "Waiting 1s before batch 2")
	assert.Contains(t, msgs, "Batch 2: 2 failed, 48 sent: rejected")
	assert.Equal(t, "Complete: 123 sent, 2 failed", msgs[len(msgs)-1])
}

func TestTrackerWaitingUpdatesCountdown(t *testing.T) {
	tr := startedTracker(t)
	require.NoError(t, tr.Apply(domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 1, TotalBatches: 3, BatchSize: 50})))
	require.NoError(t, tr.Apply(domain.NewBatchCompleteEvent(domain.BatchCompletePayload{Batch: 1, Sent: 50, TotalSent: 50})))

	require.NoError(t, tr.Apply(domain.NewWaitingEvent(5)))
	assert.Equal(t, 5, tr.Snapshot().SecondsRemaining)
	require.NoError(t, tr.Apply(domain.NewWaitingEvent(4)))
	assert.Equal(t, 4, tr.Snapshot().SecondsRemaining)

	require.NoError(t, tr.Apply(domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 2, TotalBatches: 3, BatchSize: 50})))
	assert.Zero(t, tr.Snapshot().SecondsRemaining)
}

func TestTrackerRejectsOutOfOrder(t *testing.T) {
	tr := startedTracker(t)

	tests := []struct {
		name string
		ev   domain.ProgressEvent
		want error
	}{
		{"skip batch", domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 2}), ErrOutOfOrder},
		{"result before start", domain.NewBatchCompleteEvent(domain.BatchCompletePayload{Batch: 1, TotalSent: 50}), ErrOutOfOrder},
		{"waiting before any batch", domain.NewWaitingEvent(3), ErrOutOfOrder},
		{"duplicate start", domain.NewStartEvent(domain.StartPayload{TotalRecipients: 1}), ErrAlreadyStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tr.Snapshot()
			assert.ErrorIs(t, tr.Apply(tt.ev), tt.want)
			after := tr.Snapshot()
			assert.Equal(t, before.TotalSent, after.TotalSent)
			assert.Equal(t, before.CurrentBatch, after.CurrentBatch)
			assert.Equal(t, StateSending, after.State)
		})
	}

	require.NoError(t, tr.Apply(domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 1, BatchSize: 50})))
	assert.ErrorIs(t, tr.Apply(domain.NewWaitingEvent(3)), ErrOutOfOrder, "waiting while batch in flight")
	require.NoError(t, tr.Apply(domain.NewBatchCompleteEvent(domain.BatchCompletePayload{Batch: 1, Sent: 50, TotalSent: 50})))

	err := tr.Apply(domain.NewBatchErrorEvent(domain.BatchErrorPayload{Batch: 1, Failed: 1, TotalSent: 50, TotalFailed: 1}))
	assert.ErrorIs(t, err, ErrOutOfOrder, "duplicate batch result")
	assert.Equal(t, 0, tr.Snapshot().TotalFailed)

	assert.ErrorIs(t, tr.Apply(domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: 1})), ErrOutOfOrder, "batch replay")
}

func TestTrackerTerminalStates(t *testing.T) {
	tr := startedTracker(t)
	require.NoError(t, tr.Apply(domain.NewErrorEvent("SES credentials rejected")))

	snap := tr.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "SES credentials rejected", snap.Error)

	// Nothing leaves a terminal state except a fresh submission
	assert.ErrorIs(t, tr.Apply(domain.NewCompleteEvent(1, 0)), ErrNotSending)
	tr.Fail(errors.New("EOF"))
	assert.Equal(t, "SES credentials rejected", tr.Snapshot().Error)

	require.NoError(t, tr.Submit())
	snap = tr.Snapshot()
	assert.Equal(t, StateSending, snap.State)
	assert.Empty(t, snap.Error)
	assert.Zero(t, snap.TotalRecipients)
	assert.ErrorIs(t, tr.Submit(), ErrJobActive)
}

func TestTrackerReadyRejectsEvents(t *testing.T) {
	tr := NewTracker(10)
	assert.ErrorIs(t, tr.Apply(domain.NewStartEvent(domain.StartPayload{})), ErrNotSending)
	assert.Equal(t, StateReady, tr.State())
}

func TestTrackerTransportFailure(t *testing.T) {
	tr := startedTracker(t)
	tr.Fail(errors.New("unexpected EOF"))

	snap := tr.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Contains(t, snap.Error, TransportFailureMessage)
	assert.Contains(t, snap.Error, "unexpected EOF")
}

func TestTrackerLogIsBounded(t *testing.T) {
	tr := NewTracker(3)
	require.NoError(t, tr.Submit())
	require.NoError(t, tr.Apply(domain.NewStartEvent(domain.StartPayload{TotalRecipients: 4, TotalBatches: 4, BatchSize: 1})))
	for b := 1; b <= 4; b++ {
		require.NoError(t, tr.Apply(domain.NewBatchStartEvent(domain.BatchStartPayload{Batch: b, TotalBatches: 4, BatchSize: 1})))
		require.NoError(t, tr.Apply(domain.NewBatchCompleteEvent(domain.BatchCompletePayload{Batch: b, Sent: 1, TotalSent: b})))
	}

	snap := tr.Snapshot()
	require.Len(t, snap.Log, 3)
	assert.Equal(t, "Batch 4: 1 sent", snap.Log[2].Message)
	assert.Equal(t, 4, snap.TotalSent)
}

func TestTrackerUnhandledPayload(t *testing.T) {
	tr := startedTracker(t)
	err := tr.Apply(domain.ProgressEvent{Type: "custom", Data: map[string]any{}})
	assert.ErrorIs(t, err, ErrUnhandledType)
}
