package domain

import "time"

// Draft is a saved, unsent message an operator can reload into a send.
type Draft struct {
	ID          int64       `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Subject     string      `json:"subject" db:"subject"`
	Body        string      `json:"body" db:"body"`
	Sender      string      `json:"sender" db:"sender"`
	Recipients  []string    `json:"recipients" db:"recipients"`
	Attachments []string    `json:"attachments" db:"attachments"`
	Format      EmailFormat `json:"email_type" db:"email_type"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// DraftPatch is a partial draft update. Nil fields are left unchanged.
type DraftPatch struct {
	Name        *string      `json:"name"`
	Subject     *string      `json:"subject"`
	Body        *string      `json:"body"`
	Sender      *string      `json:"sender"`
	Recipients  []string     `json:"recipients"`
	Attachments []string     `json:"attachments"`
	Format      *EmailFormat `json:"email_type"`
}

// Empty reports whether the patch changes nothing.
func (p DraftPatch) Empty() bool {
	return p.Name == nil && p.Subject == nil && p.Body == nil && p.Sender == nil &&
		p.Recipients == nil && p.Attachments == nil && p.Format == nil
}

// Apply copies the set fields of p onto d.
func (p DraftPatch) Apply(d *Draft) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Subject != nil {
		d.Subject = *p.Subject
	}
	if p.Body != nil {
		d.Body = *p.Body
	}
	if p.Sender != nil {
		d.Sender = *p.Sender
	}
	if p.Recipients != nil {
		d.Recipients = append([]string{}, p.Recipients...)
	}
	if p.Attachments != nil {
		d.Attachments = append([]string{}, p.Attachments...)
	}
	if p.Format != nil {
		d.Format = *p.Format
	}
}

// SendRequest turns the draft into a submission payload.
func (d *Draft) SendRequest() SendRequest {
	return SendRequest{
		Recipients:  append([]string{}, d.Recipients...),
		Subject:     d.Subject,
		Body:        d.Body,
		EmailType:   d.Format,
		Attachments: append([]string{}, d.Attachments...),
	}
}
