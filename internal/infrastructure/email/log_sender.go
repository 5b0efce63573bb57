package email

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender logs messages instead of delivering them. Used when no SMTP host
// is configured, so development setups still see what would go out.
type LogSender struct {
	lg zerolog.Logger
}

func NewLogSender(lg zerolog.Logger) *LogSender {
	return &LogSender{lg: lg.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) Send(_ context.Context, to, subject, textBody, htmlBody string) error {
	body := textBody
	if body == "" {
		body = htmlBody
	}
	s.lg.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("mail delivery skipped (no SMTP host configured)")
	return nil
}

// TemporaryError marks a retriable failure (e.g., network timeout, SMTP 4xx, provider 5xx).
type TemporaryError struct{ msg string }

func (e TemporaryError) Error() string   { return e.msg }
func (e TemporaryError) Temporary() bool { return true }
func (e TemporaryError) Permanent() bool { return false }

// PermanentError marks a non-retriable failure (e.g., bad address, hard bounce).
type PermanentError struct{ msg string }

func (e PermanentError) Error() string   { return e.msg }
func (e PermanentError) Permanent() bool { return true }
func (e PermanentError) Temporary() bool { return false }
