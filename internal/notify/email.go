package notify

import (
	"github.com/go-mail/mail"
)

// EmailSender delivers notification emails over SMTP. A zero-config sender is
// disabled and silently drops everything, which keeps local setups working
// without a mail server.
type EmailSender struct {
	dialer *mail.Dialer
	from   string
}

func NewEmailSender(host string, port int, username, password, from string) *EmailSender {
	if host == "" || from == "" {
		return &EmailSender{}
	}
	return &EmailSender{dialer: mail.NewDialer(host, port, username, password), from: from}
}

func (s *EmailSender) Enabled() bool {
	return s.dialer != nil
}

func (s *EmailSender) Send(to, subject, body string) error {
	if s.dialer == nil {
		return nil
	}
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return s.dialer.DialAndSend(m)
}
