// Package mailer delivers transactional email. Each Send is a single attempt.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zamapoll/backend/config"
)

// Sender delivers one HTML message. Any error means the message was not sent.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// New returns the Sender selected by cfg.Provider.
func New(cfg config.EmailConfig, logger *zap.Logger) (Sender, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	from := FormatAddress(cfg.FromName, cfg.FromAddress)
	switch cfg.Provider {
	case config.EmailMailgun:
		return NewMailgun(MailgunConfig{
			BaseURL: cfg.MailgunBaseURL,
			Domain:  cfg.MailgunDomain,
			APIKey:  cfg.MailgunAPIKey,
			From:    from,
			Timeout: cfg.Timeout,
		}, logger), nil
	case config.EmailSMTP:
		return NewSMTP(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.FromAddress,
			FromName: cfg.FromName,
			Timeout:  cfg.Timeout,
		}, logger), nil
	case config.EmailLog, "":
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// FormatAddress renders `Name <addr>`, or addr alone when name is empty.
func FormatAddress(name, addr string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// MaskEmail hides the local part of an address for logs: "alice@x.com" -> "a***@x.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a development sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message. The body is only logged at debug level.
func (s *LogSender) Send(_ context.Context, to, subject, htmlBody string) error {
	s.logger.Info("email not delivered (log provider)",
		zap.String("to", MaskEmail(to)),
		zap.String("subject", subject),
	)
	s.logger.Debug("email body", zap.String("html", htmlBody))
	return nil
}
