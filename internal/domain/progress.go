package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType names a progress event on the wire.
type EventType string

const (
	EventStart         EventType = "start"
	EventBatchStart    EventType = "batch_start"
	EventBatchComplete EventType = "batch_complete"
	EventBatchError    EventType = "batch_error"
	EventWaiting       EventType = "waiting"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

// ErrUnknownEvent is returned when decoding an event name outside the catalogue.
var ErrUnknownEvent = errors.New("unknown progress event")

// StartPayload is sent once before the first batch.
type StartPayload struct {
	TotalRecipients int     `json:"total_recipients"`
	TotalBatches    int     `json:"total_batches"`
	BatchSize       int     `json:"batch_size"`
	Delay           float64 `json:"delay"`
}

// BatchStartPayload is sent before a batch's sends begin.
type BatchStartPayload struct {
	Batch        int `json:"batch"`
	TotalBatches int `json:"total_batches"`
	BatchSize    int `json:"batch_size"`
}

// BatchCompletePayload is sent when a batch finished with zero failures.
type BatchCompletePayload struct {
	Batch       int    `json:"batch"`
	Sent        int    `json:"sent"`
	TotalSent   int    `json:"total_sent"`
	TotalFailed int    `json:"total_failed"`
	MessageID   string `json:"message_id"`
}

// BatchErrorPayload is sent when a batch finished with at least one failure.
// Error is the first failure; Errors lists the distinct messages.
type BatchErrorPayload struct {
	Batch       int      `json:"batch"`
	Sent        int      `json:"sent"`
	Failed      int      `json:"failed"`
	TotalSent   int      `json:"total_sent"`
	TotalFailed int      `json:"total_failed"`
	Error       string   `json:"error"`
	Errors      []string `json:"errors,omitempty"`
}

// WaitingPayload is sent periodically during the inter-batch delay.
type WaitingPayload struct {
	SecondsRemaining int `json:"seconds_remaining"`
}

// CompletePayload terminates a job that ran to completion.
type CompletePayload struct {
	TotalSent   int `json:"total_sent"`
	TotalFailed int `json:"total_failed"`
}

// ErrorPayload terminates a job aborted before dispatch began.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ProgressEvent is one entry of the ordered progress stream. Data holds
// the payload value matching Type.
type ProgressEvent struct {
	Type EventType `json:"event"`
	Data any       `json:"data"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// MarshalData encodes the payload for the wire.
func (e ProgressEvent) MarshalData() ([]byte, error) {
	return json.Marshal(e.Data)
}

// DecodeProgressEvent parses a named wire event into a typed ProgressEvent.
func DecodeProgressEvent(name string, data []byte) (ProgressEvent, error) {
	var (
		payload any
		err     error
	)
	switch EventType(name) {
	case EventStart:
		var p StartPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventBatchStart:
		var p BatchStartPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventBatchComplete:
		var p BatchCompletePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventBatchError:
		var p BatchErrorPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventWaiting:
		var p WaitingPayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventComplete:
		var p CompletePayload
		err = json.Unmarshal(data, &p)
		payload = p
	case EventError:
		var p ErrorPayload
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return ProgressEvent{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if err != nil {
		return ProgressEvent{}, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return ProgressEvent{Type: EventType(name), Data: payload}, nil
}

func NewStartEvent(p StartPayload) ProgressEvent {
	return ProgressEvent{Type: EventStart, Data: p}
}

func NewBatchStartEvent(p BatchStartPayload) ProgressEvent {
	return ProgressEvent{Type: EventBatchStart, Data: p}
}

func NewBatchCompleteEvent(p BatchCompletePayload) ProgressEvent {
	return ProgressEvent{Type: EventBatchComplete, Data: p}
}

func NewBatchErrorEvent(p BatchErrorPayload) ProgressEvent {
	return ProgressEvent{Type: EventBatchError, Data: p}
}

func NewWaitingEvent(secondsRemaining int) ProgressEvent {
	return ProgressEvent{Type: EventWaiting, Data: WaitingPayload{SecondsRemaining: secondsRemaining}}
}

func NewCompleteEvent(totalSent, totalFailed int) ProgressEvent {
	return ProgressEvent{Type: EventComplete, Data: CompletePayload{TotalSent: totalSent, TotalFailed: totalFailed}}
}

func NewErrorEvent(msg string) ProgressEvent {
	return ProgressEvent{Type: EventError, Data: ErrorPayload{Error: msg}}
}
