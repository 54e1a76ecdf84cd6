// Package mail delivers notification emails: MIME assembly over SMTP, retry
// with backoff, a fire-and-forget outbox, and HTML templates with inline images.
package mail

import (
	"context"
	"errors"
)

// ErrPermanent marks a send failure that retrying cannot fix.
var ErrPermanent = errors.New("mail: permanent failure")

// Attachment is an inline part referenced from the HTML body as cid:<ContentID>.
type Attachment struct {
	ContentID   string
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a single HTML email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers a message or reports why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
