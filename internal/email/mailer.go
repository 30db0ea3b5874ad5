// Package email sends transactional mail over SMTP. Only the welcome
// message for new local registrations lives here today; delivery is
// best effort and never blocks the signup path.
package email

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"

	"github.com/mealdeck/mealdeck/internal/observability/logger"
)

// Config holds the SMTP connection settings.
type Config struct {
	Enabled bool
	Host    string
	Port    int
	User    string
	Pass    string
	From    string
}

// Mailer sends over a configured SMTP relay. The zero value (or a
// disabled config) is a usable no-op, so callers never branch on SMTP
// being set up.
type Mailer struct {
	cfg Config
}

func NewMailer(cfg Config) *Mailer {
	return &Mailer{cfg: cfg}
}

// SendWelcome greets a freshly registered account.
func (m *Mailer) SendWelcome(ctx context.Context, to, firstName string) error {
	if m == nil || !m.cfg.Enabled {
		return nil
	}
	name := firstName
	if name == "" {
		name = "there"
	}
	subject := "Welcome to MealDeck"
	text := fmt.Sprintf("Hi %s,\n\nYour MealDeck account is ready. Happy planning!\n", name)
	html := fmt.Sprintf("<p>Hi %s,</p><p>Your MealDeck account is ready. Happy planning!</p>", name)
	return m.send(ctx, to, subject, html, text)
}

func (m *Mailer) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	log := logger.From(ctx).With(
		logger.Component("mailer"),
		logger.Email(to),
	)

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	if textBody != "" {
		msg.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			msg.SetBody("text/html", htmlBody)
		} else {
			msg.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Pass)
	d.TLSConfig = &tls.Config{ServerName: m.cfg.Host}

	if err := d.DialAndSend(msg); err != nil {
		log.Error("smtp send failed", logger.Err(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	log.Debug("email sent", logger.String("subject", subject))
	return nil
}
