package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// fakeUsers is a minimal UserAuthenticator recording lockout calls.
type fakeUsers struct {
	docs   map[string]*domain.UserDoc
	getErr error

	failedCalls int
	failedIP    string
	lockNow     bool
	lockErr     error
}

func (f *fakeUsers) Get(_ context.Context, login string) (*domain.UserDoc, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[login]
	if !ok {
		return nil, domain.ErrUserNotFound()
	}
	return doc, nil
}

func (f *fakeUsers) HandleFailedLogin(_ context.Context, _ *domain.UserDoc, ip string) (bool, error) {
	f.failedCalls++
	f.failedIP = ip
	if f.lockErr != nil {
		return false, f.lockErr
	}
	return f.lockNow, nil
}

func localUser(t *testing.T, password string) *domain.UserDoc {
	t.Helper()
	salt, derived, err := util.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return &domain.UserDoc{
		ID:    "kirby",
		Email: "kirby@example.com",
		Local: &domain.LocalAuth{Salt: salt, DerivedKey: derived},
	}
}

func localStrategy(users *fakeUsers, mutate func(cfg *config.Config)) (*Local, time.Time) {
	cfg := &config.Config{}
	cfg.Security.LockoutTime = 60
	if mutate != nil {
		mutate(cfg)
	}
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	return NewLocal(users, cfg).WithClock(func() time.Time { return now }), now
}

func TestLocalAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		users := &fakeUsers{docs: map[string]*domain.UserDoc{"kirby": localUser(t, "hunter2")}}
		l, _ := localStrategy(users, nil)

		doc, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "hunter2"})
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if doc.ID != "kirby" {
			t.Errorf("doc = %+v", doc)
		}
		if users.failedCalls != 0 {
			t.Errorf("failed-login recorded on success")
		}
	})

	t.Run("unknown user collapses to failed_login", func(t *testing.T) {
		users := &fakeUsers{docs: map[string]*domain.UserDoc{}}
		l, _ := localStrategy(users, nil)

		_, err := l.Authenticate(ctx, Credentials{Login: "ghost", Password: "x"})
		if !domain.Is(err, "failed_login") {
			t.Fatalf("err = %v", err)
		}
		if users.failedCalls != 0 {
			t.Error("lockout counted for a nonexistent account")
		}
	})

	t.Run("infrastructure errors pass through", func(t *testing.T) {
		sentinel := errors.New("db down")
		users := &fakeUsers{getErr: sentinel}
		l, _ := localStrategy(users, nil)

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "x"})
		if !errors.Is(err, sentinel) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		users := &fakeUsers{docs: map[string]*domain.UserDoc{"kirby": localUser(t, "hunter2")}}
		l, _ := localStrategy(users, nil)

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "wrong", IP: "1.2.3.4"})
		if !domain.Is(err, "failed_login") {
			t.Fatalf("err = %v", err)
		}
		if users.failedCalls != 1 || users.failedIP != "1.2.3.4" {
			t.Errorf("failedCalls = %d, ip = %q", users.failedCalls, users.failedIP)
		}
	})

	t.Run("wrong password crossing the threshold", func(t *testing.T) {
		users := &fakeUsers{
			docs:    map[string]*domain.UserDoc{"kirby": localUser(t, "hunter2")},
			lockNow: true,
		}
		l, _ := localStrategy(users, nil)

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "wrong"})
		if !domain.Is(err, "locked") {
			t.Fatalf("err = %v", err)
		}
		var de *domain.Error
		if !errors.As(err, &de) || !de.Locked {
			t.Errorf("Locked flag not set: %v", err)
		}
		if want := "Maximum failed login attempts exceeded. Your account has been locked for 1 minutes"; de.Message != want {
			t.Errorf("message = %q", de.Message)
		}
	})

	t.Run("lockout write failure passes through", func(t *testing.T) {
		sentinel := errors.New("write failed")
		users := &fakeUsers{
			docs:    map[string]*domain.UserDoc{"kirby": localUser(t, "hunter2")},
			lockErr: sentinel,
		}
		l, _ := localStrategy(users, nil)

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "wrong"})
		if !errors.Is(err, sentinel) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("no local credential", func(t *testing.T) {
		users := &fakeUsers{docs: map[string]*domain.UserDoc{
			"kirby": {ID: "kirby"}, // federated-only account
		}}
		l, _ := localStrategy(users, nil)

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "x"})
		if !domain.Is(err, "failed_login") {
			t.Fatalf("err = %v", err)
		}
		if users.failedCalls != 0 {
			t.Error("lockout counted without a credential to attack")
		}
	})
}

func TestLocalAuthenticateLockWindow(t *testing.T) {
	ctx := context.Background()
	lockedUser := func(t *testing.T, until time.Time) map[string]*domain.UserDoc {
		doc := localUser(t, "hunter2")
		doc.Local.LockedUntil = until.UnixMilli()
		return map[string]*domain.UserDoc{"kirby": doc}
	}

	t.Run("hard lock rejects even the right password", func(t *testing.T) {
		users := &fakeUsers{}
		l, now := localStrategy(users, nil)
		users.docs = lockedUser(t, now.Add(time.Minute))

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "hunter2", CaptchaPassed: true})
		if !domain.Is(err, "soft_locked") {
			t.Fatalf("err = %v", err)
		}
		var de *domain.Error
		if !errors.As(err, &de) || !de.Locked {
			t.Errorf("Locked flag not set: %v", err)
		}
	})

	t.Run("soft lock demands a captcha", func(t *testing.T) {
		users := &fakeUsers{}
		l, now := localStrategy(users, func(cfg *config.Config) { cfg.Security.SoftLock = true })
		users.docs = lockedUser(t, now.Add(time.Minute))

		_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "hunter2"})
		if !domain.Is(err, "missing_captcha") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("soft lock with captcha lets the right password in", func(t *testing.T) {
		users := &fakeUsers{}
		l, now := localStrategy(users, func(cfg *config.Config) { cfg.Security.SoftLock = true })
		users.docs = lockedUser(t, now.Add(time.Minute))

		doc, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "hunter2", CaptchaPassed: true})
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if doc.ID != "kirby" {
			t.Errorf("doc = %+v", doc)
		}
	})

	t.Run("expired window is ignored", func(t *testing.T) {
		users := &fakeUsers{}
		l, now := localStrategy(users, nil)
		users.docs = lockedUser(t, now.Add(-time.Second))

		if _, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "hunter2"}); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
	})
}

func TestLocalAuthenticateRequireEmailConfirm(t *testing.T) {
	ctx := context.Background()
	doc := localUser(t, "hunter2")
	doc.Email = ""
	doc.UnverifiedEmail = &domain.UnverifiedEmail{Email: "kirby@example.com", Token: "tok"}
	users := &fakeUsers{docs: map[string]*domain.UserDoc{"kirby": doc}}
	l, _ := localStrategy(users, func(cfg *config.Config) { cfg.Local.RequireEmailConfirm = true })

	_, err := l.Authenticate(ctx, Credentials{Login: "kirby", Password: "hunter2"})
	if !domain.Is(err, "email_unconfirmed") {
		t.Fatalf("err = %v", err)
	}
}
