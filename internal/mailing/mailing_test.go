package mailing

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

func TestTemplateServicePersonalizes(t *testing.T) {
	ts := NewTemplateService()

	out, err := ts.Render("k", "Hi {{ email_local | capitalize }} at {{ email_domain }}", RecipientVars("ada@example.com"), RenderModeStrict)
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada at example.com", out)

	// Cached template, new recipient
	out, err = ts.Render("k", "{{ ignored on cache hit }}", RecipientVars("bob@example.org"), RenderModeStrict)
	require.NoError(t, err)
	assert.Equal(t, "Hi Bob at example.org", out)
}

func TestTemplateServiceModes(t *testing.T) {
	ts := NewTemplateService()
	broken := "Hello {% if email %}unterminated"

	_, err := ts.Render("", broken, RecipientVars("a@example.com"), RenderModeStrict)
	assert.Error(t, err)

	out, err := ts.Render("", broken, RecipientVars("a@example.com"), RenderModeLax)
	require.NoError(t, err)
	assert.Equal(t, broken, out)

	out, err = ts.Render("", "no tags here", nil, RenderModeStrict)
	require.NoError(t, err)
	assert.Equal(t, "no tags here", out)
}

func TestRendererFormats(t *testing.T) {
	r := NewRenderer()

	c, err := r.Render(&domain.EmailMessage{
		JobID: "j1", Recipient: "a@example.com", Subject: "Hi {{ email }}",
		Body: "# Title\n\nSome **bold** text", Format: domain.FormatMarkdown,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi a@example.com", c.Subject)
	assert.Contains(t, c.HTML, "<h1>Title</h1>")
	assert.Contains(t, c.HTML, "<strong>bold</strong>")
	assert.Equal(t, "# Title\n\nSome **bold** text", c.Text)

	c, err = r.Render(&domain.EmailMessage{
		JobID: "j2", Recipient: "a@example.com", Subject: "s",
		Body: "<p>Fish &amp; chips</p><p>Line<br>two</p>", Format: domain.FormatHTML,
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>Fish &amp; chips</p><p>Line<br>two</p>", c.HTML)
	assert.Equal(t, "Fish & chips\nLine\ntwo", c.Text)

	c, err = r.Render(&domain.EmailMessage{
		JobID: "j3", Recipient: "a@example.com", Subject: "s", Body: "plain", Format: domain.FormatText,
	})
	require.NoError(t, err)
	assert.Empty(t, c.HTML)
	assert.Equal(t, "plain", c.Text)
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, `"SES Sender" <noreply@example.com>`, FormatAddress("SES Sender", "noreply@example.com"))
	assert.Equal(t, `"Ops" <ops@example.com>`, FormatAddress("SES Sender", "Ops <ops@example.com>"))
	assert.Equal(t, "not an address", FormatAddress("x", "not an address"))
}

func parseMessage(t *testing.T, raw []byte) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	return msg
}

func TestMessageAlternative(t *testing.T) {
	m := &Message{
		From: "a@example.com", To: "b@example.com", ReplyTo: "r@example.com",
		Subject: "Grüße", HTML: "<p>hi</p>", Text: "hi",
	}
	raw, err := m.Bytes()
	require.NoError(t, err)

	msg := parseMessage(t, raw)
	assert.Equal(t, "b@example.com", msg.Header.Get("To"))
	assert.Equal(t, "r@example.com", msg.Header.Get("Reply-To"))

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Grüße", subject)

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var types []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, p.Header.Get("Content-Type"))
	}
	assert.Equal(t, []string{"text/plain; charset=utf-8", "text/html; charset=utf-8"}, types)
}

func TestMessageWithAttachment(t *testing.T) {
	m := &Message{
		From: "a@example.com", To: "b@example.com", Subject: "s", Text: "see attached",
		Attachments: []Attachment{{Filename: "report.pdf", Data: []byte("%PDF-1.4 data")}},
	}
	raw, err := m.Bytes()
	require.NoError(t, err)

	msg := parseMessage(t, raw)
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	body, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", body.Header.Get("Content-Type"))
	text, _ := io.ReadAll(body)
	assert.Equal(t, "see attached", string(text))

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", att.Header.Get("Content-Type"))
	assert.Equal(t, "report.pdf", att.FileName())

	_, err = mr.NextPart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMessageNoBody(t *testing.T) {
	_, err := (&Message{From: "a@example.com", To: "b@example.com"}).Bytes()
	assert.ErrorIs(t, err, ErrNoBody)
}

type memFiles struct {
	files map[string][]byte
	loads int
}

func (m *memFiles) Load(_ context.Context, ref string) (string, []byte, error) {
	m.loads++
	data, ok := m.files[ref]
	if !ok {
		return "", nil, errors.New("not found")
	}
	return ref, data, nil
}

func TestComposer(t *testing.T) {
	files := &memFiles{files: map[string][]byte{"a.txt": []byte("hello")}}
	c := NewComposer(Identity{Source: "noreply@example.com", SenderName: "Sender"}, files)

	for _, rcpt := range []string{"x@example.com", "y@example.com"} {
		raw, err := c.Compose(context.Background(), &domain.EmailMessage{
			JobID: "job-1", Recipient: rcpt, Subject: "s", Body: "b",
			Format: domain.FormatText, Attachments: []string{"a.txt"},
		})
		require.NoError(t, err)

		msg := parseMessage(t, raw)
		assert.Equal(t, `"Sender" <noreply@example.com>`, msg.Header.Get("From"))
		assert.Equal(t, "noreply@example.com", msg.Header.Get("Reply-To"), "reply-to falls back to the source")
		assert.Equal(t, rcpt, msg.Header.Get("To"))
		assert.Equal(t, "job-1", msg.Header.Get("X-Job-Id"))
	}
	assert.Equal(t, 1, files.loads, "attachments are loaded once per job")

	_, err := c.Compose(context.Background(), &domain.EmailMessage{
		JobID: "job-2", Recipient: "x@example.com", Subject: "s", Body: "b",
		Format: domain.FormatText, Attachments: []string{"missing"},
	})
	assert.Error(t, err)
}

func TestComposerReleasesJobCaches(t *testing.T) {
	files := &memFiles{files: map[string][]byte{"a.txt": []byte("hello")}}
	c := NewComposer(Identity{Source: "noreply@example.com"}, files)
	job := &domain.SendJob{ID: "job-1"}

	_, err := c.Compose(context.Background(), &domain.EmailMessage{
		JobID: job.ID, Recipient: "x@example.com", Subject: "Hi {{ email_local }}",
		Body: "Hello {{ email }}", Format: domain.FormatText, Attachments: []string{"a.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.renderer.templates.cached())

	require.NoError(t, c.JobFinished(context.Background(), job, domain.DispatchState{}))
	assert.Equal(t, 0, c.renderer.templates.cached())
	assert.Nil(t, c.attachments)

	// A later job with the same attachment reloads it.
	_, err = c.Compose(context.Background(), &domain.EmailMessage{
		JobID: "job-2", Recipient: "x@example.com", Subject: "s", Body: "b",
		Format: domain.FormatText, Attachments: []string{"a.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, files.loads)
}

func TestComposerSetIdentity(t *testing.T) {
	c := NewComposer(Identity{Source: "noreply@example.com", SenderName: "Old"}, nil)
	c.SetIdentity(Identity{Source: "noreply@example.com", SenderName: "New", ReplyTo: "help@example.com"})

	raw, err := c.Compose(context.Background(), &domain.EmailMessage{
		JobID: "j", Recipient: "x@example.com", Subject: "s", Body: "b", Format: domain.FormatText,
	})
	require.NoError(t, err)
	msg := parseMessage(t, raw)
	assert.Equal(t, `"New" <noreply@example.com>`, msg.Header.Get("From"))
	assert.Equal(t, "help@example.com", msg.Header.Get("Reply-To"))
}

func TestTemplateServiceValidate(t *testing.T) {
	ts := NewTemplateService()
	assert.NoError(t, ts.Validate("Hi {{ email_local | capitalize }}", "plain body"))

	err := ts.Validate("Hi {% if email %}", "{% endfor %}")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 2)
	assert.Equal(t, "subject", verr.Fields[0].Field)
	assert.Equal(t, "body", verr.Fields[1].Field)
	assert.Contains(t, verr.Fields[0].Message, "invalid template")
}
