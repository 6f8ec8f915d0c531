// Package sending defines the collaborator interfaces of the batch dispatch
// engine.
//
// The dispatcher in internal/worker depends only on these interfaces: the
// SES client implements Sender and Verifier, config.BatchConfig implements
// Settings, the Emitter implements EventSink, and the history recorder and
// metrics collectors implement Observer.
package sending

import (
	"context"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Sender sends a single email through the provider and returns the
// provider message id. Implementations must be safe for concurrent use.
// Each call is attempted exactly once.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (string, error)
}

// Verifier performs a job-level preflight (credentials, account sending
// status) before dispatch begins. A Verify error aborts the job with a
// terminal error event.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Settings supplies batch size and inter-batch delay.
type Settings interface {
	Size() int
	Delay() time.Duration
}

// EventSink receives progress events in emission order. Emit may block;
// it returns an error once the stream can no longer accept events.
type EventSink interface {
	Emit(ctx context.Context, ev domain.ProgressEvent) error
}

// Observer is notified of job lifecycle transitions. Observer errors are
// logged and never affect dispatch.
type Observer interface {
	JobStarted(ctx context.Context, job *domain.SendJob) error
	BatchFinished(ctx context.Context, job *domain.SendJob, result domain.BatchResult, outcomes []domain.RecipientOutcome) error
	JobFinished(ctx context.Context, job *domain.SendJob, state domain.DispatchState) error
}

// Throttle gates individual provider calls, e.g. against account send-rate
// quotas. Wait blocks until the call may proceed or returns an error that
// becomes the recipient's failure.
type Throttle interface {
	Wait(ctx context.Context) error
}
