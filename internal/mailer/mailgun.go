package mailer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMailgunBaseURL is the US region API root.
const DefaultMailgunBaseURL = "https://api.mailgun.net/v3"

// MailgunConfig configures the Mailgun HTTP sender.
type MailgunConfig struct {
	BaseURL string
	Domain  string
	APIKey  string
	From    string
	Timeout time.Duration
}

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	cfg    MailgunConfig
	client *http.Client
	logger *zap.Logger
}

// NewMailgun creates a Mailgun sender.
func NewMailgun(cfg MailgunConfig, logger *zap.Logger) *Mailgun {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMailgunBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailgun{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// Send posts one message. Non-2xx responses are errors.
func (m *Mailgun) Send(ctx context.Context, to, subject, htmlBody string) error {
	form := url.Values{}
	form.Set("from", m.cfg.From)
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("html", htmlBody)

	endpoint := fmt.Sprintf("%s/%s/messages", m.cfg.BaseURL, url.PathEscape(m.cfg.Domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build mailgun request: %w", err)
	}
	req.SetBasicAuth("api", m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun request: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.logger.Warn("mailgun rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("to", MaskEmail(to)),
			zap.ByteString("response", snippet),
		)
		return fmt.Errorf("mailgun: unexpected status %d", resp.StatusCode)
	}

	m.logger.Info("email sent", zap.String("provider", "mailgun"), zap.String("to", MaskEmail(to)))
	return nil
}
