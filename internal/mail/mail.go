// Package mail provides the notifier strategies for certificate delivery.
package mail

import (
	"context"

	u "certforge/internal/utils"
)

// Attachment is a single file attached to a notification.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outbound notification.
type Message struct {
	To          []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Mailer sends notification messages. Send blocks until the transport
// accepts or rejects the message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New selects a mailer from configuration: SendGrid when an API key is
// configured, otherwise the console mailer for local development.
func New(cfg u.Config) Mailer {
	if cfg.Mail.SendGridKey != "" {
		return NewSendGridMailer(cfg)
	}
	u.Warn("no sendgrid key configured, using console mailer")
	return NewConsoleMailer()
}
