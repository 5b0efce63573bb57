// Package audit writes the security-relevant trail of account activity. It
// consumes the lifecycle event stream, so entries appear regardless of which
// transport triggered the operation.
package audit

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/domain"
)

// Logger provides structured audit logging for user lifecycle events.
type Logger struct {
	log zerolog.Logger
}

// New derives a child logger that stamps every entry with audit=true.
func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Bool("audit", true).Logger()}
}

// HandleEvent is the event-subscriber entry point.
func (l *Logger) HandleEvent(ev domain.Event) {
	switch ev.Name {
	case domain.EventSignup:
		l.Signup(ev)
	case domain.EventLogin:
		l.Login(ev)
	case domain.EventRefresh:
		l.SessionRefreshed(ev)
	case domain.EventLogout:
		l.Logout(ev)
	case domain.EventLogoutAll:
		l.SessionsRevoked(ev)
	case domain.EventPasswordReset, domain.EventPasswordChange:
		l.PasswordChanged(ev)
	case domain.EventForgotPassword:
		l.PasswordResetRequested(ev)
	case domain.EventEmailVerified:
		l.EmailVerified(ev)
	case domain.EventEmailChanged, domain.EventPhoneChanged:
		l.ContactChanged(ev)
	case domain.EventUserDBAdded, domain.EventUserDBRemoved:
		l.UserDBChanged(ev)
	default:
		l.log.Info().Str("action", ev.Name).Str("user_id", ev.UserID).Msg("User event")
	}
}

// Signup logs a new registration.
func (l *Logger) Signup(ev domain.Event) {
	l.log.Info().
		Str("action", "signup").
		Str("user_id", ev.UserID).
		Str("provider", ev.Provider).
		Str("ip", ev.IP).
		Msg("User registered")
}

// Login logs an issued session.
func (l *Logger) Login(ev domain.Event) {
	l.log.Info().
		Str("action", "login").
		Str("user_id", ev.UserID).
		Str("provider", ev.Provider).
		Str("ip", ev.IP).
		Str("session", ev.Session).
		Msg("User logged in")
}

// SessionRefreshed logs an extended session.
func (l *Logger) SessionRefreshed(ev domain.Event) {
	l.log.Info().
		Str("action", "session_refreshed").
		Str("user_id", ev.UserID).
		Str("session", ev.Session).
		Msg("Session refreshed")
}

// Logout logs a single revoked session.
func (l *Logger) Logout(ev domain.Event) {
	l.log.Info().
		Str("action", "logout").
		Str("user_id", ev.UserID).
		Str("session", ev.Session).
		Msg("User logged out")
}

// SessionsRevoked logs when every session is revoked at once.
func (l *Logger) SessionsRevoked(ev domain.Event) {
	l.log.Warn().
		Str("action", "sessions_revoked").
		Str("user_id", ev.UserID).
		Msg("All sessions revoked for user")
}

// PasswordChanged covers both resets and authenticated changes.
func (l *Logger) PasswordChanged(ev domain.Event) {
	l.log.Info().
		Str("action", "password_changed").
		Str("user_id", ev.UserID).
		Str("ip", ev.IP).
		Msg("User password changed")
}

// PasswordResetRequested logs a forgot-password round starting.
func (l *Logger) PasswordResetRequested(ev domain.Event) {
	l.log.Info().
		Str("action", "password_reset_requested").
		Str("user_id", ev.UserID).
		Str("ip", ev.IP).
		Msg("Password reset requested")
}

// EmailVerified logs a confirmed email address.
func (l *Logger) EmailVerified(ev domain.Event) {
	l.log.Info().
		Str("action", "email_verified").
		Str("user_id", ev.UserID).
		Msg("Email verified")
}

// ContactChanged logs email or phone updates.
func (l *Logger) ContactChanged(ev domain.Event) {
	l.log.Info().
		Str("action", ev.Name).
		Str("user_id", ev.UserID).
		Str("ip", ev.IP).
		Msg("Contact detail changed")
}

// UserDBChanged logs per-user database lifecycle.
func (l *Logger) UserDBChanged(ev domain.Event) {
	l.log.Info().
		Str("action", ev.Name).
		Str("user_id", ev.UserID).
		Str("db", ev.DB).
		Msg("User database changed")
}

// Action records a service-level audit entry outside the event stream; the
// user service's audit hook lands here.
func (l *Logger) Action(action string, fields map[string]string) {
	e := l.log.Info().Str("action", action)
	for k, v := range fields {
		if k == "email" {
			v = maskEmail(v)
		}
		e = e.Str(k, v)
	}
	e.Msg("Audit entry")
}

// maskEmail keeps a couple of leading characters and the domain so an entry
// stays matchable to a user without recording the full address.
func maskEmail(email string) string {
	if len(email) < 5 {
		return "***"
	}
	at := max(strings.IndexByte(email, '@'), 0)
	if at < 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}
