package mail

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ConsoleMailer writes messages to a writer instead of sending them.
// Used in development and whenever no mail credentials are configured.
type ConsoleMailer struct {
	out io.Writer
}

var _ Mailer = (*ConsoleMailer)(nil)

// NewConsoleMailer writes to stdout.
func NewConsoleMailer() *ConsoleMailer {
	return &ConsoleMailer{out: os.Stdout}
}

// NewConsoleMailerTo writes to the given writer. Tests only.
func NewConsoleMailerTo(w io.Writer) *ConsoleMailer {
	return &ConsoleMailer{out: w}
}

// Send prints the message; it never fails on transport.
func (m *ConsoleMailer) Send(_ context.Context, msg Message) error {
	fmt.Fprintf(m.out, "--- mail ---\nTo: %v\nSubject: %s\n\n%s\n", msg.To, msg.Subject, msg.TextBody)
	for _, a := range msg.Attachments {
		fmt.Fprintf(m.out, "[attachment %s, %s, %d bytes]\n", a.Filename, a.ContentType, len(a.Content))
	}
	fmt.Fprintln(m.out, "------------")
	return nil
}
