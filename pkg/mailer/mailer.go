package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/ultima-training/ultima-api/pkg/config"
)

// Message is a rendered outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers messages through an SMTP relay.
type Mailer struct {
	dialer *gomail.Dialer
	sender string
}

// New constructs a Mailer from SMTP configuration.
func New(cfg config.SMTPConfig) *Mailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	sender := cfg.SenderEmail
	if cfg.SenderName != "" {
		sender = fmt.Sprintf("%s <%s>", cfg.SenderName, cfg.SenderEmail)
	}
	return &Mailer{dialer: dialer, sender: sender}
}

// Send dials the relay and delivers a single message.
func (m *Mailer) Send(msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("recipient required")
	}
	mail := gomail.NewMessage()
	mail.SetHeader("From", m.sender)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", msg.Subject)
	mail.SetBody("text/html", msg.HTML)

	if err := m.dialer.DialAndSend(mail); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}
