package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
	"github.com/ignite/ses-bulk-sender/internal/service/sending"
)

// =============================================================================
// BATCH DISPATCHER
// =============================================================================
// Drives one SendJob through its batches strictly in order. Sends within a
// batch run concurrently up to the configured limit; the batch result is
// emitted only after every recipient has an outcome. Only a failed preflight
// aborts a job; once dispatch begins it runs to completion or cancellation.

const (
	DefaultConcurrency = 5
	DefaultCallTimeout = 30 * time.Second

	// maxBatchErrors caps the distinct messages carried by batch_error.
	maxBatchErrors = 10
)

// BatchDispatcher sends SendJobs through a provider and reports progress.
// One dispatcher may run many jobs, one Run call per job.
type BatchDispatcher struct {
	sender    sending.Sender
	verifier  sending.Verifier
	throttle  sending.Throttle
	scheduler *Scheduler
	observers []sending.Observer

	concurrency int
	callTimeout time.Duration

	// Stats across all jobs
	totalSent   int64
	totalFailed int64
	jobsRun     int64
}

// NewBatchDispatcher creates a dispatcher for the given provider.
func NewBatchDispatcher(sender sending.Sender) *BatchDispatcher {
	return &BatchDispatcher{
		sender:      sender,
		scheduler:   NewScheduler(),
		concurrency: DefaultConcurrency,
		callTimeout: DefaultCallTimeout,
	}
}

// SetVerifier sets the preflight run before each job
func (d *BatchDispatcher) SetVerifier(v sending.Verifier) {
	d.verifier = v
}

// SetThrottle sets the per-call send-rate gate
func (d *BatchDispatcher) SetThrottle(t sending.Throttle) {
	d.throttle = t
}

// SetScheduler replaces the inter-batch scheduler
func (d *BatchDispatcher) SetScheduler(s *Scheduler) {
	if s != nil {
		d.scheduler = s
	}
}

// SetObservers sets the lifecycle observers (history, metrics)
func (d *BatchDispatcher) SetObservers(obs ...sending.Observer) {
	d.observers = obs
}

// SetConcurrency sets the number of concurrent provider calls per batch
func (d *BatchDispatcher) SetConcurrency(n int) {
	if n > 0 {
		d.concurrency = n
	}
}

// SetCallTimeout sets the bound on each provider call
func (d *BatchDispatcher) SetCallTimeout(t time.Duration) {
	if t > 0 {
		d.callTimeout = t
	}
}

// Stats returns counters accumulated across jobs
func (d *BatchDispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"total_sent":   atomic.LoadInt64(&d.totalSent),
		"total_failed": atomic.LoadInt64(&d.totalFailed),
		"jobs_run":     atomic.LoadInt64(&d.jobsRun),
	}
}

// Run dispatches job and emits its progress to sink. It returns the final
// DispatchState. The error is non-nil when the job aborted before dispatch
// (the terminal error event has been emitted) or when ctx was cancelled or
// the sink stopped accepting events (no terminal event follows).
func (d *BatchDispatcher) Run(ctx context.Context, job *domain.SendJob, sink sending.EventSink) (domain.DispatchState, error) {
	atomic.AddInt64(&d.jobsRun, 1)

	state := domain.DispatchState{
		JobID:           job.ID,
		TotalRecipients: len(job.Recipients),
		Status:          domain.JobRunning,
	}

	batches, err := Plan(job.Recipients, job.BatchSize)
	if err != nil {
		return d.abort(ctx, job, state, sink, err)
	}
	state.TotalBatches = len(batches)

	if d.verifier != nil {
		vctx, cancel := context.WithTimeout(ctx, d.callTimeout)
		err := d.verifier.Verify(vctx)
		cancel()
		if err != nil {
			return d.abort(ctx, job, state, sink, err)
		}
	}

	logger.Info("dispatch: job started",
		"job_id", job.ID, "recipients", state.TotalRecipients,
		"batches", state.TotalBatches, "batch_size", job.BatchSize, "delay", job.Delay)
	// Observers record what was sent even after the stream goes away.
	octx := context.WithoutCancel(ctx)
	d.notify(func(o sending.Observer) error { return o.JobStarted(octx, job) })

	start := domain.NewStartEvent(domain.StartPayload{
		TotalRecipients: state.TotalRecipients,
		TotalBatches:    state.TotalBatches,
		BatchSize:       job.BatchSize,
		Delay:           job.Delay.Seconds(),
	})
	if err := sink.Emit(ctx, start); err != nil {
		return d.cancelled(ctx, job, state, err)
	}

	for i, batch := range batches {
		if i > 0 {
			if err := d.scheduler.Wait(ctx, job.Delay, sink); err != nil {
				return d.cancelled(ctx, job, state, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return d.cancelled(ctx, job, state, err)
		}

		state.CurrentBatch = batch.Number
		if err := sink.Emit(ctx, domain.NewBatchStartEvent(domain.BatchStartPayload{
			Batch:        batch.Number,
			TotalBatches: state.TotalBatches,
			BatchSize:    batch.Size(),
		})); err != nil {
			return d.cancelled(ctx, job, state, err)
		}

		outcomes := d.sendBatch(ctx, job, batch)
		result := Summarize(batch, outcomes)
		applyResult(&state, result)

		logger.Info("dispatch: batch finished",
			"job_id", job.ID, "batch", result.Number, "sent", result.Sent,
			"failed", result.Failed, "total_sent", state.TotalSent, "total_failed", state.TotalFailed)
		d.notify(func(o sending.Observer) error { return o.BatchFinished(octx, job, result, outcomes) })

		if err := sink.Emit(ctx, batchEvent(result, state)); err != nil {
			return d.cancelled(ctx, job, state, err)
		}
	}

	state.Status = domain.JobComplete
	logger.Info("dispatch: job complete",
		"job_id", job.ID, "total_sent", state.TotalSent, "total_failed", state.TotalFailed)
	d.notify(func(o sending.Observer) error { return o.JobFinished(octx, job, state) })

	if err := sink.Emit(ctx, domain.NewCompleteEvent(state.TotalSent, state.TotalFailed)); err != nil {
		return state, err
	}
	return state, nil
}

// abort ends a job before dispatch with a terminal error event.
func (d *BatchDispatcher) abort(ctx context.Context, job *domain.SendJob, state domain.DispatchState, sink sending.EventSink, cause error) (domain.DispatchState, error) {
	state.Status = domain.JobError
	state.LastError = cause.Error()
	logger.Error("dispatch: job aborted", "job_id", job.ID, "error", cause)

	if err := sink.Emit(ctx, domain.NewErrorEvent(cause.Error())); err != nil {
		logger.Warn("dispatch: could not emit error event", "job_id", job.ID, "error", err)
	}
	return state, cause
}

// cancelled records a job stopped mid-dispatch. No terminal event is sent.
func (d *BatchDispatcher) cancelled(ctx context.Context, job *domain.SendJob, state domain.DispatchState, cause error) (domain.DispatchState, error) {
	state.Status = domain.JobCancelled
	state.LastError = cause.Error()
	logger.Warn("dispatch: job cancelled",
		"job_id", job.ID, "batch", state.CurrentBatch,
		"total_sent", state.TotalSent, "total_failed", state.TotalFailed, "error", cause)

	octx := context.WithoutCancel(ctx)
	d.notify(func(o sending.Observer) error { return o.JobFinished(octx, job, state) })
	return state, cause
}

func (d *BatchDispatcher) notify(fn func(sending.Observer) error) {
	for _, o := range d.observers {
		if err := fn(o); err != nil {
			logger.Warn("dispatch: observer failed", "observer", fmt.Sprintf("%T", o), "error", err)
		}
	}
}

// sendBatch calls the provider once per recipient and returns the outcomes
// in recipient order. In-flight calls are detached from ctx cancellation so
// a disconnect never leaves a batch half-reported to the provider layer.
func (d *BatchDispatcher) sendBatch(ctx context.Context, job *domain.SendJob, batch domain.Batch) []domain.RecipientOutcome {
	outcomes := make([]domain.RecipientOutcome, batch.Size())
	callCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, rcpt := range batch.Recipients {
		g.Go(func() error {
			outcomes[i] = d.sendOne(callCtx, job, rcpt)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (d *BatchDispatcher) sendOne(ctx context.Context, job *domain.SendJob, recipient string) domain.RecipientOutcome {
	out := domain.RecipientOutcome{Recipient: recipient}

	if d.throttle != nil {
		if err := d.throttle.Wait(ctx); err != nil {
			out.Status = domain.OutcomeFailed
			out.Error = err.Error()
			atomic.AddInt64(&d.totalFailed, 1)
			logger.Warn("dispatch: recipient throttled", "job_id", job.ID, "recipient", recipient, "error", err)
			return out
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	msg := &domain.EmailMessage{
		JobID:       job.ID,
		Recipient:   recipient,
		Subject:     job.Subject,
		Body:        job.Body,
		Format:      job.Format,
		Attachments: job.Attachments,
	}
	id, err := d.sender.Send(callCtx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("provider call timed out after %s", d.callTimeout)
		}
		out.Status = domain.OutcomeFailed
		out.Error = err.Error()
		atomic.AddInt64(&d.totalFailed, 1)
		logger.Warn("dispatch: send failed", "job_id", job.ID, "recipient", recipient, "error", err)
		return out
	}

	out.Status = domain.OutcomeSent
	out.MessageID = id
	atomic.AddInt64(&d.totalSent, 1)
	return out
}

// Summarize aggregates a batch's outcomes. MessageID is the first success
// and Error the first failure in recipient order; Errors lists up to ten
// distinct failure messages.
func Summarize(batch domain.Batch, outcomes []domain.RecipientOutcome) domain.BatchResult {
	res := domain.BatchResult{Number: batch.Number, Size: batch.Size()}
	seen := make(map[string]struct{})
	for _, o := range outcomes {
		switch o.Status {
		case domain.OutcomeSent:
			res.Sent++
			if res.MessageID == "" {
				res.MessageID = o.MessageID
			}
		default:
			res.Failed++
			if res.Error == "" {
				res.Error = o.Error
			}
			if _, dup := seen[o.Error]; !dup && len(res.Errors) < maxBatchErrors {
				seen[o.Error] = struct{}{}
				res.Errors = append(res.Errors, o.Error)
			}
		}
	}
	return res
}

func applyResult(state *domain.DispatchState, res domain.BatchResult) {
	state.TotalSent += res.Sent
	state.TotalFailed += res.Failed
	if res.Error != "" {
		state.LastError = res.Error
	}
}

func batchEvent(res domain.BatchResult, state domain.DispatchState) domain.ProgressEvent {
	if res.Failed == 0 {
		return domain.NewBatchCompleteEvent(domain.BatchCompletePayload{
			Batch:       res.Number,
			Sent:        res.Sent,
			TotalSent:   state.TotalSent,
			TotalFailed: state.TotalFailed,
			MessageID:   res.MessageID,
		})
	}
	return domain.NewBatchErrorEvent(domain.BatchErrorPayload{
		Batch:       res.Number,
		Sent:        res.Sent,
		Failed:      res.Failed,
		TotalSent:   state.TotalSent,
		TotalFailed: state.TotalFailed,
		Error:       res.Error,
		Errors:      res.Errors,
	})
}
