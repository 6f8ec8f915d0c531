package mailing

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// AttachmentSource resolves an attachment reference to its file name and
// contents.
type AttachmentSource interface {
	Load(ctx context.Context, ref string) (name string, data []byte, err error)
}

// Identity is the header identity of outgoing messages.
type Identity struct {
	Source     string
	SenderName string
	ReplyTo    string
}

// Composer builds the raw MIME message for one recipient of a job.
// Attachments and parsed templates are cached per job; registered as a
// dispatcher observer, the Composer drops them when the job finishes.
type Composer struct {
	renderer *Renderer
	files    AttachmentSource

	idMu     sync.RWMutex
	identity Identity

	mu          sync.Mutex
	cachedJob   string
	attachments []Attachment
}

// NewComposer creates a composer. files may be nil when attachments are not
// supported.
func NewComposer(identity Identity, files AttachmentSource) *Composer {
	return &Composer{
		renderer: NewRenderer(),
		identity: identity,
		files:    files,
	}
}

// SetIdentity replaces the header identity for messages composed afterwards.
func (c *Composer) SetIdentity(id Identity) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.identity = id
}

// Identity returns the current header identity.
func (c *Composer) Identity() Identity {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.identity
}

// Compose renders and encodes msg.
func (c *Composer) Compose(ctx context.Context, msg *domain.EmailMessage) ([]byte, error) {
	content, err := c.renderer.Render(msg)
	if err != nil {
		return nil, err
	}
	attachments, err := c.loadAttachments(ctx, msg)
	if err != nil {
		return nil, err
	}

	id := c.Identity()
	replyTo := id.ReplyTo
	if replyTo == "" {
		replyTo = id.Source
	}

	m := &Message{
		From:        FormatAddress(id.SenderName, id.Source),
		To:          msg.Recipient,
		ReplyTo:     replyTo,
		Subject:     content.Subject,
		HTML:        content.HTML,
		Text:        content.Text,
		Attachments: attachments,
		Headers:     map[string]string{"X-Job-ID": msg.JobID},
	}
	return m.Bytes()
}

func (c *Composer) loadAttachments(ctx context.Context, msg *domain.EmailMessage) ([]Attachment, error) {
	if len(msg.Attachments) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedJob == msg.JobID {
		return c.attachments, nil
	}
	if c.files == nil {
		return nil, fmt.Errorf("attachments are not supported")
	}

	out := make([]Attachment, 0, len(msg.Attachments))
	for _, ref := range msg.Attachments {
		name, data, err := c.files.Load(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load attachment %s: %w", ref, err)
		}
		out = append(out, Attachment{Filename: name, Data: data})
	}
	c.cachedJob = msg.JobID
	c.attachments = out
	return out, nil
}

// JobStarted is a no-op; caches fill on the first Compose.
func (c *Composer) JobStarted(context.Context, *domain.SendJob) error { return nil }

// BatchFinished is a no-op.
func (c *Composer) BatchFinished(context.Context, *domain.SendJob, domain.BatchResult, []domain.RecipientOutcome) error {
	return nil
}

// JobFinished releases the job's cached templates and attachments.
func (c *Composer) JobFinished(_ context.Context, job *domain.SendJob, _ domain.DispatchState) error {
	c.renderer.Forget(job.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedJob == job.ID {
		c.cachedJob = ""
		c.attachments = nil
	}
	return nil
}
