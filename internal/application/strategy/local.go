package strategy

import (
	"context"
	"time"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// UserAuthenticator is the slice of the user service the local strategy
// needs.
type UserAuthenticator interface {
	Get(ctx context.Context, login string) (*domain.UserDoc, error)
	HandleFailedLogin(ctx context.Context, doc *domain.UserDoc, ip string) (bool, error)
}

// Credentials is one local login attempt as submitted by the client.
type Credentials struct {
	Login         string
	Password      string
	CaptchaPassed bool
	IP            string
}

// Local verifies username/password credentials against the stored derived
// key and enforces the lockout window. A successful attempt returns the user
// document; issuing the session is the caller's job.
type Local struct {
	users UserAuthenticator
	cfg   *config.Config
	now   func() time.Time
}

func NewLocal(users UserAuthenticator, cfg *config.Config) *Local {
	return &Local{users: users, cfg: cfg, now: time.Now}
}

// WithClock fixes the time source.
func (l *Local) WithClock(now func() time.Time) *Local {
	l.now = now
	return l
}

// Authenticate resolves the login, checks the lock state and verifies the
// password. Unknown users and bad passwords collapse into the same
// failed_login so callers cannot probe for accounts.
func (l *Local) Authenticate(ctx context.Context, creds Credentials) (*domain.UserDoc, error) {
	doc, err := l.users.Get(ctx, creds.Login)
	if err != nil {
		if domain.Is(err, "username_not_found") {
			return nil, domain.ErrFailedLogin()
		}
		return nil, err
	}

	if doc.Local != nil && doc.Local.LockedUntil > l.now().UnixMilli() {
		if !l.cfg.Security.SoftLock {
			return nil, domain.ErrSoftLocked()
		}
		if !creds.CaptchaPassed {
			return nil, domain.ErrMissingCaptcha()
		}
	}

	if doc.Local == nil || doc.Local.DerivedKey == "" {
		return nil, domain.ErrFailedLogin()
	}

	if err := util.VerifyPassword(doc.Local.Salt, doc.Local.DerivedKey, creds.Password); err != nil {
		locked, lockErr := l.users.HandleFailedLogin(ctx, doc, creds.IP)
		if lockErr != nil {
			return nil, lockErr
		}
		if locked {
			return nil, domain.ErrAccountLocked(l.cfg.Security.LockoutTime)
		}
		return nil, domain.ErrFailedLogin()
	}

	if l.cfg.Local.RequireEmailConfirm && doc.Email == "" {
		return nil, domain.ErrEmailUnconfirmed()
	}
	return doc, nil
}
