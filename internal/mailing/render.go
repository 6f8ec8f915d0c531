package mailing

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// Content is the rendered subject and bodies of one message. HTML is empty
// for text messages.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer personalizes and formats message content.
type Renderer struct {
	templates *TemplateService
	markdown  goldmark.Markdown
	strip     *bluemonday.Policy
}

// NewRenderer creates a renderer with GitHub-flavored markdown.
func NewRenderer() *Renderer {
	return &Renderer{
		templates: NewTemplateService(),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		strip:     bluemonday.StrictPolicy(),
	}
}

// Render produces the content for msg's recipient.
func (r *Renderer) Render(msg *domain.EmailMessage) (*Content, error) {
	vars := RecipientVars(msg.Recipient)

	subject, err := r.templates.Render(subjectKey(msg.JobID), msg.Subject, vars, RenderModeLax)
	if err != nil {
		return nil, err
	}
	body, err := r.templates.Render(bodyKey(msg.JobID), msg.Body, vars, RenderModeLax)
	if err != nil {
		return nil, err
	}

	c := &Content{Subject: strings.TrimSpace(subject)}
	switch msg.Format {
	case domain.FormatText:
		c.Text = body
	case domain.FormatMarkdown:
		var buf bytes.Buffer
		if err := r.markdown.Convert([]byte(body), &buf); err != nil {
			return nil, fmt.Errorf("render markdown: %w", err)
		}
		c.HTML = buf.String()
		c.Text = body
	default:
		c.HTML = body
		c.Text = r.PlainText(body)
	}
	return c, nil
}

func subjectKey(jobID string) string { return jobID + ":subject" }
func bodyKey(jobID string) string    { return jobID + ":body" }

// Forget drops the templates cached for a finished job.
func (r *Renderer) Forget(jobID string) {
	r.templates.ClearCacheKey(subjectKey(jobID))
	r.templates.ClearCacheKey(bodyKey(jobID))
}

var (
	blockBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|h[1-6]|li|tr|blockquote)>`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives a text alternative from HTML.
func (r *Renderer) PlainText(htmlBody string) string {
	s := blockBreaks.ReplaceAllString(htmlBody, "\n")
	s = html.UnescapeString(r.strip.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}
