package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmailFormat is the body format of a message.
type EmailFormat string

const (
	FormatHTML     EmailFormat = "html"
	FormatText     EmailFormat = "text"
	FormatMarkdown EmailFormat = "markdown"
)

// Valid reports whether f is a supported body format.
func (f EmailFormat) Valid() bool {
	switch f {
	case FormatHTML, FormatText, FormatMarkdown:
		return true
	}
	return false
}

var (
	// ErrInvalidJob is matched by every ValidationError.
	ErrInvalidJob = errors.New("invalid send job")
	// ErrInvalidBatchSize is a configuration error: batch size must be positive.
	ErrInvalidBatchSize = errors.New("batch size must be a positive integer")
	// ErrInvalidDelay is a configuration error: the inter-batch delay is negative.
	ErrInvalidDelay = errors.New("batch delay must not be negative")
)

// FieldError describes one problem with a submitted field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when a SendRequest cannot become a SendJob.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid send job: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidJob }

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// SendRequest is the submission payload accepted by the API.
type SendRequest struct {
	Recipients  []string    `json:"recipients"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	EmailType   EmailFormat `json:"email_type"`
	Attachments []string    `json:"attachments"`
}

// SendJob is the immutable input of one dispatch. Recipients are
// deduplicated, validated addresses in submission order.
type SendJob struct {
	ID          string        `json:"id"`
	Recipients  []string      `json:"recipients"`
	Subject     string        `json:"subject"`
	Body        string        `json:"body"`
	Format      EmailFormat   `json:"email_type"`
	Attachments []string      `json:"attachments"`
	BatchSize   int           `json:"batch_size"`
	Delay       time.Duration `json:"delay"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TotalBatches returns ceil(len(Recipients) / BatchSize).
func (j *SendJob) TotalBatches() int {
	if j.BatchSize <= 0 {
		return 0
	}
	return (len(j.Recipients) + j.BatchSize - 1) / j.BatchSize
}

// NewSendJob validates req and freezes it into a SendJob. Field problems are
// reported together as a *ValidationError; a non-positive batch size or a
// negative delay is reported as a configuration error.
func NewSendJob(req SendRequest, batchSize int, delay time.Duration) (*SendJob, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, batchSize)
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidDelay, delay)
	}

	verr := &ValidationError{}

	recipients := NormalizeRecipients(req.Recipients, verr)
	if len(recipients) == 0 && len(verr.Fields) == 0 {
		verr.add("recipients", "at least one recipient is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		verr.add("subject", "subject is required")
	}
	if strings.TrimSpace(req.Body) == "" {
		verr.add("body", "body is required")
	}

	format := req.EmailType
	if format == "" {
		format = FormatHTML
	}
	if !format.Valid() {
		verr.add("email_type", fmt.Sprintf("unsupported format %q", req.EmailType))
	}

	var attachments []string
	for i, a := range req.Attachments {
		a = strings.TrimSpace(a)
		if a == "" {
			verr.add(fmt.Sprintf("attachments[%d]", i), "empty attachment reference")
			continue
		}
		attachments = append(attachments, a)
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}

	return &SendJob{
		ID:          uuid.New().String(),
		Recipients:  recipients,
		Subject:     req.Subject,
		Body:        req.Body,
		Format:      format,
		Attachments: attachments,
		BatchSize:   batchSize,
		Delay:       delay,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// NormalizeRecipients trims, validates and deduplicates addresses, keeping
// the first occurrence. Duplicates are matched case-insensitively. Invalid
// entries are recorded on verr when it is non-nil and skipped otherwise.
func NormalizeRecipients(raw []string, verr *ValidationError) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		addr, err := mail.ParseAddress(r)
		if err != nil || !strings.Contains(addr.Address, ".") {
			if verr != nil {
				verr.add(fmt.Sprintf("recipients[%d]", i), fmt.Sprintf("invalid email address %q", r))
			}
			continue
		}
		key := strings.ToLower(addr.Address)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr.Address)
	}
	return out
}

// Batch is a contiguous slice of a job's recipients. Number is 1-based.
type Batch struct {
	Number     int      `json:"batch"`
	Recipients []string `json:"recipients"`
}

// Size returns the number of recipients in the batch.
func (b Batch) Size() int { return len(b.Recipients) }

// OutcomeStatus is the terminal result of one provider call.
type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "sent"
	OutcomeFailed OutcomeStatus = "failed"
)

// RecipientOutcome is the result of sending to one recipient.
type RecipientOutcome struct {
	Recipient string        `json:"recipient"`
	Status    OutcomeStatus `json:"status"`
	MessageID string        `json:"message_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// BatchResult aggregates a batch's outcomes. MessageID is the first
// success in recipient order, Error the first failure. Errors holds the
// distinct failure messages.
type BatchResult struct {
	Number    int      `json:"batch"`
	Size      int      `json:"batch_size"`
	Sent      int      `json:"sent"`
	Failed    int      `json:"failed"`
	MessageID string   `json:"message_id,omitempty"`
	Error     string   `json:"error,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// JobStatus is the terminal flag of a DispatchState. JobCancelled marks a
// job whose stream went away mid-dispatch; no terminal event is emitted for it.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobComplete  JobStatus = "complete"
	JobError     JobStatus = "error"
	JobCancelled JobStatus = "cancelled"
)

// DispatchState is the running state of one job. It is owned and mutated
// by the dispatcher only; everything else sees copies.
type DispatchState struct {
	JobID           string    `json:"job_id"`
	TotalRecipients int       `json:"total_recipients"`
	TotalBatches    int       `json:"total_batches"`
	CurrentBatch    int       `json:"current_batch"`
	TotalSent       int       `json:"total_sent"`
	TotalFailed     int       `json:"total_failed"`
	Status          JobStatus `json:"status"`
	LastError       string    `json:"last_error,omitempty"`
}

// EmailMessage is one fully addressed message handed to a provider.
type EmailMessage struct {
	JobID       string      `json:"job_id"`
	Recipient   string      `json:"recipient"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	Format      EmailFormat `json:"email_type"`
	Attachments []string    `json:"attachments"`
}
