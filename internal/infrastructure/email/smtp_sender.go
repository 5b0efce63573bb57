// Package email holds the mail transport implementations behind the mailer's
// Sender port.
package email

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// SMTPSender delivers rendered messages over SMTP.
type SMTPSender struct {
	lg zerolog.Logger

	host     string
	port     int
	user     string
	pass     string
	from     string
	insecure bool

	timeout time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	Insecure bool
}

func NewSMTPSender(cfg SMTPConfig, lg zerolog.Logger) *SMTPSender {
	return &SMTPSender{
		lg:       lg.With().Str("component", "smtp_sender").Logger(),
		host:     cfg.Host,
		port:     cfg.Port,
		user:     cfg.Username,
		pass:     cfg.Password,
		from:     cfg.From,
		insecure: cfg.Insecure,
		timeout:  cfg.Timeout,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return PermanentError{msg: "invalid from address: " + err.Error()}
	}
	if err := m.To(to); err != nil {
		return PermanentError{msg: "invalid to address: " + err.Error()}
	}
	m.Subject(subject)

	switch {
	case textBody == "" && htmlBody != "":
		m.SetBodyString(mail.TypeTextHTML, htmlBody)
	case htmlBody != "":
		// Text fallback + HTML alternative
		m.SetBodyString(mail.TypeTextPlain, textBody)
		m.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	default:
		m.SetBodyString(mail.TypeTextPlain, textBody)
	}

	tlsPolicy := mail.TLSMandatory
	if s.insecure {
		tlsPolicy = mail.TLSOpportunistic
	}

	opts := []mail.Option{
		mail.WithPort(s.port),
		mail.WithTLSPolicy(tlsPolicy),
	}
	if s.user != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(s.user), mail.WithPassword(s.pass))
	}

	c, err := mail.NewClient(s.host, opts...)
	if err != nil {
		return PermanentError{msg: "smtp client init failed: " + err.Error()}
	}

	s.lg.Info().Str("host", s.host).Int("port", s.port).Str("to", to).Str("subject", subject).Msg("attempting smtp send")
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		s.lg.Error().Err(err).Str("to", to).Msg("smtp send failed")

		msg := err.Error()
		if containsAny(msg, "535", "5.7.8", "authentication", "Username and Password not accepted") {
			return PermanentError{msg: "smtp auth failed: " + msg}
		}
		return TemporaryError{msg: "smtp transient failure: " + msg}
	}

	s.lg.Info().Str("to", to).Msg("smtp send ok")
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, x := range subs {
		if x != "" && strings.Contains(s, x) {
			return true
		}
	}
	return false
}
