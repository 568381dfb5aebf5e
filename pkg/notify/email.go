package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/gomail.v2"
)

// ErrNoRecipients is returned when a message has no valid address to go to
var ErrNoRecipients = errors.New("no valid email recipients")

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// Configured reports whether SMTP credentials are present
func (c EmailConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// EmailChannel sends notifications over SMTP
type EmailChannel struct {
	cfg  EmailConfig
	send func(m *gomail.Message) error
}

// NewEmailChannel creates an SMTP channel
func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &EmailChannel{cfg: cfg, send: func(m *gomail.Message) error {
		return dialer.DialAndSend(m)
	}}
}

func (c *EmailChannel) Name() string { return "email" }

// Send delivers msg to its own recipients, or to the configured ones
func (c *EmailChannel) Send(ctx context.Context, msg *Message) error {
	recipients := msg.Recipients
	if len(recipients) == 0 {
		recipients = c.cfg.Recipients
	}
	valid := ValidRecipients(recipients)
	if len(valid) == 0 {
		return fmt.Errorf("%w: %w", ErrSendFailed, ErrNoRecipients)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.cfg.From)
	m.SetHeader("To", valid...)
	m.SetHeader("Subject", msg.Subject)
	if msg.HTML {
		m.SetBody("text/html", msg.Body)
	} else {
		m.SetBody("text/plain", msg.Body)
	}

	if err := c.send(m); err != nil {
		return fmt.Errorf("%w: smtp %s:%d: %v", ErrSendFailed, c.cfg.Host, c.cfg.Port, err)
	}
	return nil
}

// ValidRecipients drops empty and malformed addresses
func ValidRecipients(recipients []string) []string {
	trimmed := lo.Map(recipients, func(r string, _ int) string {
		return strings.TrimSpace(r)
	})
	return lo.Uniq(lo.Filter(trimmed, func(r string, _ int) bool {
		return r != "" && strings.Contains(r, "@")
	}))
}
