package utils

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Email is one outbound message handed to the transport.
type Email struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
}

// Mailer is the email action handler the executor dispatches to. Implementations
// must respect the context deadline; the executor treats a timeout as a
// transient failure and retries.
type Mailer interface {
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// SMTPMailer sends through a single SMTP relay via gomail.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, fromEmail string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   fromEmail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) (string, error) {
	msg := gomail.NewMessage()
	from := email.From
	if from == "" {
		from = m.from
	}
	if email.FromName != "" {
		msg.SetAddressHeader("From", from, email.FromName)
	} else {
		msg.SetHeader("From", from)
	}
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	messageID := fmt.Sprintf("<%s@leadflow>", uuid.New().String())
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", email.Body)

	// gomail has no context support; run the dial in a goroutine so the
	// executor's timeout still applies.
	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send timed out: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send failed: %w", err)
		}
	}

	return messageID, nil
}
