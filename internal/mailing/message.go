package mailing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// ErrNoBody is returned when a message has neither an HTML nor a text part.
var ErrNoBody = errors.New("message has no body")

// Attachment is a file carried by a message.
type Attachment struct {
	Filename string
	Data     []byte
}

// Message is a single-recipient email ready to be encoded as raw MIME.
type Message struct {
	From        string
	To          string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
	Headers     map[string]string
	Date        time.Time
}

// FormatAddress renders "Name <addr>". A source that already carries a
// display name is kept as is.
func FormatAddress(name, source string) string {
	addr, err := mail.ParseAddress(source)
	if err != nil {
		return source
	}
	if addr.Name == "" {
		addr.Name = name
	}
	return addr.String()
}

// Bytes encodes the message as RFC 5322 with MIME parts. Without
// attachments the body is a single part or multipart/alternative; with
// attachments it is wrapped in multipart/mixed.
func (m *Message) Bytes() ([]byte, error) {
	if m.HTML == "" && m.Text == "" {
		return nil, ErrNoBody
	}

	var buf bytes.Buffer
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	writeHeader(&buf, "From", m.From)
	writeHeader(&buf, "To", m.To)
	if m.ReplyTo != "" {
		writeHeader(&buf, "Reply-To", m.ReplyTo)
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&buf, "Date", date.Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, textproto.CanonicalMIMEHeaderKey(k), m.Headers[k])
	}

	if len(m.Attachments) == 0 {
		if err := m.writeBody(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mixed := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", "multipart/mixed; boundary="+mixed.Boundary())
	buf.WriteString("\r\n")

	// Body part: headers are written by writeBody into the part
	var body bytes.Buffer
	if err := m.writeBody(&body); err != nil {
		return nil, err
	}
	hdr, content := splitPart(body.Bytes())
	part, err := mixed.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}

	for _, a := range m.Attachments {
		if err := writeAttachment(mixed, a); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBody writes Content-Type headers, a blank line, then the body.
func (m *Message) writeBody(w *bytes.Buffer) error {
	switch {
	case m.HTML != "" && m.Text != "":
		alt := multipart.NewWriter(w)
		writeHeader(w, "Content-Type", "multipart/alternative; boundary="+alt.Boundary())
		w.WriteString("\r\n")
		if err := writeTextPart(alt, "text/plain", m.Text); err != nil {
			return err
		}
		if err := writeTextPart(alt, "text/html", m.HTML); err != nil {
			return err
		}
		return alt.Close()
	case m.HTML != "":
		return writeSingle(w, "text/html", m.HTML)
	default:
		return writeSingle(w, "text/plain", m.Text)
	}
}

func writeSingle(w *bytes.Buffer, contentType, body string) error {
	writeHeader(w, "Content-Type", contentType+"; charset=utf-8")
	writeHeader(w, "Content-Transfer-Encoding", "quoted-printable")
	w.WriteString("\r\n")
	return writeQP(w, body)
}

func writeTextPart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	return writeQP(part, body)
}

func writeQP(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachment(mw *multipart.Writer, a Attachment) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString(a.Data)
	for len(encoded) > 76 {
		if _, err := io.WriteString(part, encoded[:76]+"\r\n"); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = io.WriteString(part, encoded+"\r\n")
	return err
}

func writeHeader(w *bytes.Buffer, key, value string) {
	w.WriteString(key)
	w.WriteString(": ")
	w.WriteString(value)
	w.WriteString("\r\n")
}

// splitPart separates the header block written by writeBody from its content.
func splitPart(raw []byte) (textproto.MIMEHeader, []byte) {
	h := textproto.MIMEHeader{}
	head, content, _ := bytes.Cut(raw, []byte("\r\n\r\n"))
	for _, line := range strings.Split(string(head), "\r\n") {
		if k, v, ok := strings.Cut(line, ": "); ok {
			h.Set(k, v)
		}
	}
	return h, content
}
