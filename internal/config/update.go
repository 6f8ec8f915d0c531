package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidUpdate is matched by every rejected runtime update.
var ErrInvalidUpdate = errors.New("invalid configuration update")

// Update is a partial runtime change to the batch and sender sections.
// Nil fields are left unchanged. Connection settings (SES credentials,
// database, redis) are start-up only.
type Update struct {
	Batch  *BatchUpdate  `json:"batch"`
	Sender *SenderUpdate `json:"sender"`
}

// BatchUpdate changes batch sizing for jobs submitted afterwards.
type BatchUpdate struct {
	BatchSize    *int     `json:"batch_size"`
	DelaySeconds *float64 `json:"delay_seconds"`
}

// SenderUpdate changes the header identity of messages composed afterwards.
type SenderUpdate struct {
	SenderName *string `json:"sender_name"`
	ReplyTo    *string `json:"reply_to"`
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	b, s := u.Batch, u.Sender
	return (b == nil || (b.BatchSize == nil && b.DelaySeconds == nil)) &&
		(s == nil || (s.SenderName == nil && s.ReplyTo == nil))
}

// WithUpdate returns a copy of c with u applied. c itself is not modified.
func (c *Config) WithUpdate(u Update) (*Config, error) {
	if u.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidUpdate)
	}
	next := *c

	if b := u.Batch; b != nil {
		if b.BatchSize != nil {
			next.Batch.BatchSize = *b.BatchSize
		}
		if b.DelaySeconds != nil {
			d := *b.DelaySeconds
			next.Batch.DelaySeconds = &d
		}
		if err := next.Batch.Validate(); err != nil {
			return nil, err
		}
	}

	if s := u.Sender; s != nil {
		if s.SenderName != nil {
			next.Sender.SenderName = strings.TrimSpace(*s.SenderName)
		}
		if s.ReplyTo != nil {
			replyTo := strings.TrimSpace(*s.ReplyTo)
			if replyTo != "" {
				if _, err := mail.ParseAddress(replyTo); err != nil {
					return nil, fmt.Errorf("%w: reply_to is not a valid address", ErrInvalidUpdate)
				}
			}
			next.Sender.ReplyTo = replyTo
		}
	}
	return &next, nil
}
