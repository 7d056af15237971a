// Package mail sends the shop's transactional email: invoices, password
// reset links and username reminders.
//
// Two Mailers exist. SMTPMailer talks to a real relay; LogMailer writes the
// message to the log and is what development runs with (MAIL_HOST empty).
package mail

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNoRecipients is returned when a Message has no usable To address.
var ErrNoRecipients = errors.New("mail: no recipients")

// Message is one outgoing email. HTML is optional; when set the message is
// sent as multipart/alternative with Text as the plain part.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers a Message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// recipients drops blank addresses.
func (m Message) recipients() []string {
	out := make([]string, 0, len(m.To))
	for _, addr := range m.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// LogMailer writes messages to the logger instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	to := msg.recipients()
	if len(to) == 0 {
		return ErrNoRecipients
	}
	m.logger.InfoContext(ctx, "mail not sent (log transport)",
		slog.String("to", strings.Join(to, ", ")),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Text),
	)
	return nil
}
