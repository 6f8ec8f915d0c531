// Package progress implements the client-side view of a send: a finite
// state machine fed by progress events.
//
//	ready ──Submit──▶ sending ──complete──▶ complete
//	                     │
//	                     └──error / transport failure──▶ error
//
// complete and error are left only by a new Submit. Each event type has
// its own transition function; events that do not fit the current state
// (before a submission, after a terminal event, out of batch order,
// duplicates) are rejected and leave the state untouched.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// State is the consumer's phase.
type State string

const (
	StateReady    State = "ready"
	StateSending  State = "sending"
	StateComplete State = "complete"
	StateError    State = "error"
)

// DefaultLogSize is the number of activity entries kept for display.
const DefaultLogSize = 100

// TransportFailureMessage is shown when the stream ends without a terminal event.
const TransportFailureMessage = "connection to server lost before the send finished"

var (
	ErrJobActive     = errors.New("a send is already in progress")
	ErrNotSending    = errors.New("no send in progress")
	ErrAlreadyStart  = errors.New("duplicate start event")
	ErrOutOfOrder    = errors.New("event out of batch order")
	ErrUnhandledType = errors.New("unhandled event type")
)

// LogLevel classifies an activity entry for rendering.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogSuccess LogLevel = "success"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one line of the activity log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// Snapshot is a copy of the tracker's state for rendering.
type Snapshot struct {
	State            State      `json:"state"`
	TotalRecipients  int        `json:"total_recipients"`
	TotalBatches     int        `json:"total_batches"`
	CurrentBatch     int        `json:"current_batch"`
	BatchSize        int        `json:"batch_size"`
	TotalSent        int        `json:"total_sent"`
	TotalFailed      int        `json:"total_failed"`
	SecondsRemaining int        `json:"seconds_remaining"`
	Error            string     `json:"error,omitempty"`
	Log              []LogEntry `json:"log"`
}

// Percent returns the share of recipients with an outcome.
func (s Snapshot) Percent() float64 {
	if s.TotalRecipients == 0 {
		return 0
	}
	return float64(s.TotalSent+s.TotalFailed) * 100 / float64(s.TotalRecipients)
}

// Tracker holds consumer state. It is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	state            State
	started          bool
	totalRecipients  int
	totalBatches     int
	currentBatch     int
	finishedBatch    int
	batchSize        int
	totalSent        int
	totalFailed      int
	secondsRemaining int
	lastErr          string
	waiting          bool

	log    []LogEntry
	maxLog int
	now    func() time.Time
}

// NewTracker creates a tracker in the ready state keeping the last maxLog
// activity entries.
func NewTracker(maxLog int) *Tracker {
	if maxLog <= 0 {
		maxLog = DefaultLogSize
	}
	return &Tracker{state: StateReady, maxLog: maxLog, now: time.Now}
}

// Submit enters sending for a new job, clearing the previous job's state.
func (t *Tracker) Submit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateSending {
		return ErrJobActive
	}
	t.reset()
	t.state = StateSending
	t.appendLog(LogInfo, "Send submitted")
	return nil
}

func (t *Tracker) reset() {
	t.started = false
	t.totalRecipients, t.totalBatches, t.batchSize = 0, 0, 0
	t.currentBatch, t.finishedBatch = 0, 0
	t.totalSent, t.totalFailed = 0, 0
	t.secondsRemaining = 0
	t.waiting = false
	t.lastErr = ""
	t.log = nil
}

// Apply feeds one event to the state machine.
func (t *Tracker) Apply(ev domain.ProgressEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateSending {
		return fmt.Errorf("%w: %s received in state %s", ErrNotSending, ev.Type, t.state)
	}

	switch p := ev.Data.(type) {
	case domain.StartPayload:
		return t.onStart(p)
	case domain.BatchStartPayload:
		return t.onBatchStart(p)
	case domain.BatchCompletePayload:
		return t.onBatchComplete(p)
	case domain.BatchErrorPayload:
		return t.onBatchError(p)
	case domain.WaitingPayload:
		return t.onWaiting(p)
	case domain.CompletePayload:
		return t.onComplete(p)
	case domain.ErrorPayload:
		return t.onError(p)
	}
	return fmt.Errorf("%w: %s (%T)", ErrUnhandledType, ev.Type, ev.Data)
}

// Fail moves a sending tracker to error after a transport failure. It has
// no effect in other states.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateSending {
		return
	}
	msg := TransportFailureMessage
	if err != nil {
		msg = fmt.Sprintf("%s: %v", TransportFailureMessage, err)
	}
	t.state = StateError
	t.lastErr = msg
	t.waiting = false
	t.secondsRemaining = 0
	t.appendLog(LogError, msg)
}

// State returns the current phase.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns a copy of the state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		State:            t.state,
		TotalRecipients:  t.totalRecipients,
		TotalBatches:     t.totalBatches,
		CurrentBatch:     t.currentBatch,
		BatchSize:        t.batchSize,
		TotalSent:        t.totalSent,
		TotalFailed:      t.totalFailed,
		SecondsRemaining: t.secondsRemaining,
		Error:            t.lastErr,
		Log:              append([]LogEntry(nil), t.log...),
	}
}

func (t *Tracker) onStart(p domain.StartPayload) error {
	if t.started {
		return ErrAlreadyStart
	}
	t.started = true
	t.totalRecipients = p.TotalRecipients
	t.totalBatches = p.TotalBatches
	t.batchSize = p.BatchSize
	t.appendLog(LogInfo, fmt.Sprintf("Sending to %d recipients in %d batches", p.TotalRecipients, p.TotalBatches))
	return nil
}

func (t *Tracker) onBatchStart(p domain.BatchStartPayload) error {
	if !t.started || p.Batch != t.currentBatch+1 || t.finishedBatch != t.currentBatch {
		return fmt.Errorf("%w: batch_start %d after batch %d", ErrOutOfOrder, p.Batch, t.currentBatch)
	}
	t.currentBatch = p.Batch
	t.batchSize = p.BatchSize
	t.waiting = false
	t.secondsRemaining = 0
	t.appendLog(LogInfo, fmt.Sprintf("Batch %d/%d: sending to %d recipients", p.Batch, t.totalBatches, p.BatchSize))
	return nil
}

func (t *Tracker) finishBatch(batch, totalSent, totalFailed int) error {
	if batch != t.currentBatch || t.finishedBatch == batch {
		return fmt.Errorf("%w: result for batch %d while batch %d is current", ErrOutOfOrder, batch, t.currentBatch)
	}
	t.finishedBatch = batch
	t.totalSent = totalSent
	t.totalFailed = totalFailed
	return nil
}

func (t *Tracker) onBatchComplete(p domain.BatchCompletePayload) error {
	if err := t.finishBatch(p.Batch, p.TotalSent, p.TotalFailed); err != nil {
		return err
	}
	msg := fmt.Sprintf("Batch %d: %d sent", p.Batch, p.Sent)
	if p.MessageID != "" {
		msg += " (message id " + p.MessageID + ")"
	}
	t.appendLog(LogSuccess, msg)
	return nil
}

func (t *Tracker) onBatchError(p domain.BatchErrorPayload) error {
	if err := t.finishBatch(p.Batch, p.TotalSent, p.TotalFailed); err != nil {
		return err
	}
	t.appendLog(LogError, fmt.Sprintf("Batch %d: %d failed, %d sent: %s", p.Batch, p.Failed, p.Sent, p.Error))
	return nil
}

func (t *Tracker) onWaiting(p domain.WaitingPayload) error {
	if t.currentBatch == 0 || t.finishedBatch != t.currentBatch {
		return fmt.Errorf("%w: waiting while batch %d is in flight", ErrOutOfOrder, t.currentBatch)
	}
	if !t.waiting {
		t.appendLog(LogWarning, fmt.Sprintf("Waiting %ds before batch %d", p.SecondsRemaining, t.currentBatch+1))
	}
	t.waiting = true
	t.secondsRemaining = p.SecondsRemaining
	return nil
}

func (t *Tracker) onComplete(p domain.CompletePayload) error {
	t.state = StateComplete
	t.totalSent = p.TotalSent
	t.totalFailed = p.TotalFailed
	t.waiting = false
	t.secondsRemaining = 0
	level := LogSuccess
	if p.TotalFailed > 0 {
		level = LogWarning
	}
	t.appendLog(level, fmt.Sprintf("Complete: %d sent, %d failed", p.TotalSent, p.TotalFailed))
	return nil
}

func (t *Tracker) onError(p domain.ErrorPayload) error {
	t.state = StateError
	t.lastErr = p.Error
	t.waiting = false
	t.secondsRemaining = 0
	t.appendLog(LogError, "Error: "+p.Error)
	return nil
}

func (t *Tracker) appendLog(level LogLevel, msg string) {
	t.log = append(t.log, LogEntry{Time: t.now(), Level: level, Message: msg})
	if over := len(t.log) - t.maxLog; over > 0 {
		t.log = append(t.log[:0:0], t.log[over:]...)
	}
}
