// Package mailer renders account emails and hands them to the log instead of
// an SMTP relay. It stands in for a real transport during development.
package mailer

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

type Config struct {
	BaseURL string
	// Disabled makes every send report "not delivered".
	Disabled bool
}

// ConfigFromEnv reads MAIL_BASE_URL and MAIL_DISABLED.
func ConfigFromEnv() Config {
	base := os.Getenv("MAIL_BASE_URL")
	if base == "" {
		base = "http://localhost:8431"
	}
	return Config{BaseURL: base, Disabled: os.Getenv("MAIL_DISABLED") == "1"}
}

// Message is a rendered email.
type Message struct {
	ID      string
	To      string
	Subject string
	Link    string
}

type LogMailer struct {
	cfg    Config
	logger *zap.SugaredLogger
}

func NewLogMailer(cfg Config, logger *zap.SugaredLogger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LogMailer{cfg: cfg, logger: logger}
}

func (m *LogMailer) SendActivationEmail(ctx context.Context, email, token string) (bool, error) {
	return m.send(ctx, m.render(email, "Activate your account", "/activate", token))
}

func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, email, token string) (bool, error) {
	return m.send(ctx, m.render(email, "Reset your password", "/reset-password", token))
}

func (m *LogMailer) render(to, subject, path, token string) Message {
	q := url.Values{}
	q.Set("email", to)
	q.Set("token", token)
	return Message{
		ID:      utilities.NewSnowflakeID(),
		To:      to,
		Subject: subject,
		Link:    fmt.Sprintf("%s%s?%s", m.cfg.BaseURL, path, q.Encode()),
	}
}

func (m *LogMailer) send(ctx context.Context, msg Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.cfg.Disabled {
		m.logger.Infow("mail disabled, message dropped", "message_id", msg.ID, "to", msg.To)
		return false, nil
	}
	m.logger.Debugw("mail link", "message_id", msg.ID, "link", msg.Link)
	m.logger.Infow("mail sent", "message_id", msg.ID, "to", msg.To, "subject", msg.Subject, "link", redactToken(msg.Link))
	return true, nil
}

// redactToken masks the token query value so Info logs never carry a usable link.
func redactToken(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return "[unparsable link]"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
