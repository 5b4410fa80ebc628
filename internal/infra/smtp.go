package infra

import (
	"fmt"
	"net/smtp"

	"cashdrawer/internal/config"

	"github.com/jordan-wright/email"
)

// Mailer wraps SMTP configuration for sending emails with PDF attachments.
type Mailer struct {
	host     string
	user     string
	password string
	addr     string
}

func NewMailer(cfg *config.Config) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
	}
}

// Send mails body to every recipient, attaching the file at attachment when set.
func (m *Mailer) Send(to []string, subject, body, attachment string) error {
	e := m.compose(to, subject, body)
	if attachment != "" {
		if _, err := e.AttachFile(attachment); err != nil {
			return fmt.Errorf("mailer: attach %s: %w", attachment, err)
		}
	}

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.password, m.host)
	}
	return e.Send(m.addr, auth)
}

func (m *Mailer) compose(to []string, subject, body string) *email.Email {
	e := email.NewEmail()
	e.From = m.user
	e.To = to
	e.Subject = subject
	e.Text = []byte(body)
	return e
}
