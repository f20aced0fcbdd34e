package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/logger"
)

// Mailer delivers license keys to buyers. Every implementation is
// best-effort; callers log failures and move on.
type Mailer interface {
	SendLicenseKey(ctx context.Context, email, code, tier string) error
}

// New returns an SMTP mailer when mail is configured, otherwise a logging
// stand-in so issuance flows behave identically in development.
func New(cfg config.MailConfig, logg *logger.Logger) Mailer {
	if cfg.Enabled() {
		return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
	}
	return &LogMailer{logg: logg}
}

// SMTPMailer sends plain-text key emails over authenticated SMTP.
type SMTPMailer struct {
	cfg  config.MailConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (m *SMTPMailer) SendLicenseKey(_ context.Context, email, code, tier string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)

	var auth smtp.Auth
	if m.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUser, m.cfg.SMTPPass, m.cfg.SMTPHost)
	}

	msg := buildKeyMessage(m.cfg.From, email, code, tier)
	if err := m.send(addr, auth, m.cfg.From, []string{email}, msg); err != nil {
		return fmt.Errorf("sending license mail: %w", err)
	}
	return nil
}

func buildKeyMessage(from, to, code, tier string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Your Glass %s license key\r\n", titleCase(tier))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Thanks for your purchase!\r\n\r\nYour license key:\r\n\r\n    %s\r\n\r\n", code)
	b.WriteString("Open Glass, choose Enter License Key, and paste it in.\r\n")
	return []byte(b.String())
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// LogMailer records the key in the logs instead of sending mail. Used when no
// SMTP host is configured.
type LogMailer struct {
	logg *logger.Logger
}

func (m *LogMailer) SendLicenseKey(ctx context.Context, email, code, _ string) error {
	if m.logg != nil {
		fields := m.logg.WithFields(ctx, map[string]any{"email": email, "key_code": code})
		m.logg.Info(fields, "mail disabled, license key logged instead")
	}
	return nil
}
