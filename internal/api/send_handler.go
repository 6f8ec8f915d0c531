package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/pkg/distlock"
	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
	"github.com/ignite/ses-bulk-sender/internal/sse"
	"github.com/ignite/ses-bulk-sender/internal/worker"
)

// SendEmails validates a send request and streams the job's progress as
// server-sent events. Validation failures are answered synchronously; once
// the stream has started every outcome is reported as an event.
//
//	POST /api/emails/send
func (h *Handlers) SendEmails(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	cfg := h.config()
	if h.dispatcher == nil || !cfg.IsConfigured() {
		httputil.ErrorWithDetails(w, http.StatusInternalServerError,
			"SES sender is not configured", "not_configured", nil)
		return
	}

	job, err := domain.NewSendJob(req, cfg.Batch.Size(), cfg.Batch.Delay())
	if err != nil {
		respondJobError(w, err)
		return
	}

	if err := h.templates.Validate(job.Subject, job.Body); err != nil {
		respondJobError(w, err)
		return
	}

	if verr := h.checkAttachments(job); verr != nil {
		respondJobError(w, verr)
		return
	}

	ok, err := h.lock.Acquire(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "could not acquire send lock")
		return
	}
	if !ok {
		httputil.ErrorWithDetails(w, http.StatusConflict,
			"another send is already in progress", "send_in_progress", nil)
		return
	}
	defer h.releaseLock(r.Context())

	sw, err := sse.NewWriter(w)
	if err != nil {
		respondSafeError(w, http.StatusInternalServerError, err, "streaming not supported")
		return
	}

	logger.Info("api: send accepted",
		"job_id", job.ID,
		"recipients", len(job.Recipients),
		"batches", job.TotalBatches(),
	)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	em := worker.NewEmitter(worker.DefaultEmitterBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer em.Close()
		state, err := h.dispatcher.Run(ctx, job, em)
		logger.Info("api: send finished",
			"job_id", job.ID,
			"status", state.Status,
			"sent", state.TotalSent,
			"failed", state.TotalFailed,
			"events", em.Emitted(),
			"error", err,
		)
	}()

	h.stream(ctx, sw, em, job.ID)

	// The dispatcher observes the cancelled context and stops after the
	// in-flight batch. The lock is held until it has returned.
	cancel()
	<-done
}

// stream forwards events until the emitter closes or the client goes away.
func (h *Handlers) stream(ctx context.Context, sw *sse.Writer, em *worker.Emitter, jobID string) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	var extend <-chan time.Time
	ext, canExtend := h.lock.(distlock.Extender)
	if canExtend {
		t := time.NewTicker(h.lockTTL / 3)
		defer t.Stop()
		extend = t.C
	}

	for {
		select {
		case ev, open := <-em.Events():
			if !open {
				return
			}
			data, err := ev.MarshalData()
			if err == nil {
				err = sw.WriteEvent(string(ev.Type), data)
			}
			if err != nil {
				logger.Warn("api: send stream write failed", "job_id", jobID, "error", err)
				em.Detach()
				return
			}

		case <-ping.C:
			if err := sw.Comment("ping"); err != nil {
				logger.Warn("api: send stream ping failed", "job_id", jobID, "error", err)
				em.Detach()
				return
			}

		case <-extend:
			if err := ext.Extend(ctx, h.lockTTL); err != nil {
				logger.Warn("api: send lock extend failed", "job_id", jobID, "error", err)
			}

		case <-ctx.Done():
			logger.Info("api: client disconnected from send stream", "job_id", jobID)
			em.Detach()
			return
		}
	}
}

func (h *Handlers) releaseLock(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.lock.Release(ctx); err != nil {
		logger.Error("api: release send lock", "error", err)
	}
}

// checkAttachments rejects references that cannot be resolved before any
// event is streamed.
func (h *Handlers) checkAttachments(job *domain.SendJob) error {
	if len(job.Attachments) == 0 {
		return nil
	}
	verr := &domain.ValidationError{}
	for i, ref := range job.Attachments {
		if h.files == nil || !h.files.Exists(ref) {
			verr.Fields = append(verr.Fields, domain.FieldError{
				Field:   fmt.Sprintf("attachments[%d]", i),
				Message: fmt.Sprintf("attachment %q not found", ref),
			})
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func respondJobError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ErrorWithDetails(w, http.StatusBadRequest, "invalid send request", "validation_failed", verr.Fields)
	case errors.Is(err, domain.ErrInvalidBatchSize), errors.Is(err, domain.ErrInvalidDelay):
		logger.Error("api: batch configuration invalid", "error", err)
		httputil.ErrorWithDetails(w, http.StatusInternalServerError, err.Error(), "invalid_configuration", nil)
	default:
		httputil.InternalError(w, err)
	}
}
