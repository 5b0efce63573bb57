package user

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/domain"
)

func TestCreateSessionResponse(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.UserDBs.DefaultDBs.Private = []string{"notes"}
	})
	ctx := context.Background()
	f.register(t, "kirby", "hunter2")

	resp := f.login(t, "kirby")

	if resp.Token == "" || resp.Password == "" {
		t.Fatalf("credentials missing: %+v", resp)
	}
	if strings.HasPrefix(resp.Token, "_") || strings.HasPrefix(resp.Token, "-") {
		t.Errorf("token %q starts with a reserved character", resp.Token)
	}
	if resp.UserID != "kirby" || resp.UserEmail != "kirby@example.com" {
		t.Errorf("identity = %q / %q", resp.UserID, resp.UserEmail)
	}
	if len(resp.Roles) != 1 || resp.Roles[0] != "user" {
		t.Errorf("Roles = %v", resp.Roles)
	}
	nowMS := f.clock.Now().UnixMilli()
	if resp.Issued != nowMS {
		t.Errorf("Issued = %d, want %d", resp.Issued, nowMS)
	}
	if resp.Expires != nowMS+86400*1000 {
		t.Errorf("Expires = %d, want %d", resp.Expires, nowMS+86400*1000)
	}
	if resp.Provider != "local" || resp.IP != "10.0.0.1" {
		t.Errorf("Provider/IP = %q / %q", resp.Provider, resp.IP)
	}

	wantURL := "http://" + resp.Token + ":" + resp.Password + "@db.local:5984/userdb_notes$kirby"
	if got := resp.UserDBs["notes"]; got != wantURL {
		t.Errorf("UserDBs[notes] = %q, want %q", got, wantURL)
	}

	// The token is live and answers the bearer check.
	view, err := f.svc.ConfirmSession(ctx, resp.Token, resp.Password)
	if err != nil {
		t.Fatalf("ConfirmSession: %v", err)
	}
	if view.ID != "kirby" || view.Key != resp.Token {
		t.Errorf("view = %+v", view)
	}
	if _, err := f.svc.ConfirmSession(ctx, resp.Token, "wrong"); !domain.Is(err, "unauthorized") {
		t.Errorf("ConfirmSession wrong password: %v", err)
	}

	if !f.authSt.HasKey(resp.Token) {
		t.Error("session key missing from the couch auth store")
	}
	sec, err := f.provider.Security(ctx, "userdb_notes$kirby")
	if err != nil {
		t.Fatalf("Security: %v", err)
	}
	found := false
	for _, n := range sec.Members.Names {
		if n == resp.Token {
			found = true
		}
	}
	if !found {
		t.Errorf("token not granted membership: %+v", sec.Members)
	}

	doc := f.reload(t, "kirby")
	entry, ok := doc.Session[resp.Token]
	if !ok {
		t.Fatalf("Session = %v, token missing", doc.Session)
	}
	if entry.Issued != resp.Issued || entry.Expires != resp.Expires || entry.Provider != "local" || entry.IP != "10.0.0.1" {
		t.Errorf("session entry = %+v", entry)
	}
	if doc.Activity[0].Action != "login" {
		t.Errorf("Activity[0] = %+v", doc.Activity[0])
	}

	ev := f.emitter.last(t, domain.EventLogin)
	if ev.UserID != "kirby" || ev.Session != resp.Token {
		t.Errorf("login event = %+v", ev)
	}
}

func TestCreateSessionUnknownUser(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CreateSession(context.Background(), "ghost", "local", "")
	wantCode(t, err, "username_not_found")
}

func TestCreateSessionResetsLockout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "kirby", "hunter2")

	doc := f.reload(t, "kirby")
	doc.Local.FailedLoginAttempts = 2
	doc.Local.LockedUntil = f.clock.Now().UnixMilli() + 60_000
	if _, err := f.users.Put(ctx, doc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	f.login(t, "kirby")

	doc = f.reload(t, "kirby")
	if doc.Local.FailedLoginAttempts != 0 || doc.Local.LockedUntil != 0 {
		t.Errorf("counters not reset: %+v", doc.Local)
	}
}

func TestCreateSessionPrunesExpired(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "kirby", "hunter2")

	first := f.login(t, "kirby")
	f.clock.Advance(25 * time.Hour) // past the 86400s session life

	second := f.login(t, "kirby")

	doc := f.reload(t, "kirby")
	if len(doc.Session) != 1 {
		t.Fatalf("Session = %v, want only the live one", doc.Session)
	}
	if _, ok := doc.Session[second.Token]; !ok {
		t.Errorf("live session %q missing", second.Token)
	}
	if f.authSt.HasKey(first.Token) {
		t.Error("expired key still in the couch auth store")
	}
}

func TestRefreshSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "kirby", "hunter2")

	first := f.login(t, "kirby")
	other := f.login(t, "kirby")

	f.clock.Advance(time.Hour)
	refreshed, err := f.svc.RefreshSession(ctx, first.Token)
	if err != nil {
		t.Fatalf("RefreshSession: %v", err)
	}

	nowMS := f.clock.Now().UnixMilli()
	if refreshed.Token != first.Token || refreshed.Password != first.Password {
		t.Errorf("credentials changed on refresh: %+v", refreshed)
	}
	if refreshed.Issued != nowMS {
		t.Errorf("Issued = %d, want %d", refreshed.Issued, nowMS)
	}
	if refreshed.Expires != nowMS+86400*1000 {
		t.Errorf("Expires = %d, want %d", refreshed.Expires, nowMS+86400*1000)
	}
	if refreshed.Provider != "local" || refreshed.IP != "10.0.0.1" {
		t.Errorf("Provider/IP lost on refresh: %+v", refreshed)
	}

	doc := f.reload(t, "kirby")
	if got := doc.Session[first.Token].Expires; got != refreshed.Expires {
		t.Errorf("document expiry = %d, want %d", got, refreshed.Expires)
	}
	if got := doc.Session[other.Token].Expires; got != other.Expires {
		t.Errorf("untouched session expiry = %d, want %d", got, other.Expires)
	}

	tok, err := f.sessions.FetchToken(ctx, first.Token)
	if err != nil {
		t.Fatalf("FetchToken: %v", err)
	}
	if tok.Expires != refreshed.Expires {
		t.Errorf("stored token expiry = %d, want %d", tok.Expires, refreshed.Expires)
	}

	ev := f.emitter.last(t, domain.EventRefresh)
	if ev.UserID != "kirby" || ev.Session != first.Token {
		t.Errorf("refresh event = %+v", ev)
	}
}

func TestRefreshSessionUnknownKey(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.RefreshSession(context.Background(), "nope")
	wantCode(t, err, "unauthorized")
}

func TestSessionProfileMapping(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Session.ProfileMapping = config.ProfileMapping{
			"name": {
				{Provider: "google", Field: "displayName"},
				{Provider: "facebook", Field: "name"},
			},
		}
	})
	ctx := context.Background()
	f.register(t, "kirby", "hunter2")

	doc := f.reload(t, "kirby")
	doc.AddProvider("google")
	doc.AddProvider("facebook")
	doc.Accounts = map[string]domain.ProviderAccount{
		"google":   {Profile: map[string]any{"id": "g1", "displayName": "Kirby G"}},
		"facebook": {Profile: map[string]any{"id": "f1", "name": "Kirby F"}},
	}
	if _, err := f.users.Put(ctx, doc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp := f.login(t, "kirby")
	if resp.Profile["name"] != "Kirby G" {
		t.Errorf("Profile[name] = %v, want the first declared provider", resp.Profile["name"])
	}

	// Without the preferred provider, the next source wins.
	doc = f.reload(t, "kirby")
	delete(doc.Accounts, "google")
	doc.RemoveProvider("google")
	doc.Profile = nil
	if _, err := f.users.Put(ctx, doc); err != nil {
		t.Fatalf("Put: %v", err)
	}
	resp = f.login(t, "kirby")
	if resp.Profile["name"] != "Kirby F" {
		t.Errorf("Profile[name] = %v, want the fallback provider", resp.Profile["name"])
	}
}

func TestCreateSessionRetriesConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "kirby", "hunter2")

	cs := f.withConflicts(1)
	resp, err := f.svc.CreateSession(context.Background(), "kirby", "local", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if cs.putCount() != 2 {
		t.Errorf("puts = %d, want a retry after the conflict", cs.putCount())
	}
	doc := f.reload(t, "kirby")
	if _, ok := doc.Session[resp.Token]; !ok {
		t.Errorf("session not persisted after retry: %v", doc.Session)
	}
}

func TestWithConflictRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := withConflictRetry(ctx, func(context.Context) error {
			calls++
			if calls <= 3 {
				return domain.ErrRevisionConflict(nil)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if calls != 4 {
			t.Errorf("calls = %d, want 4", calls)
		}
	})

	t.Run("gives up after the budget", func(t *testing.T) {
		calls := 0
		err := withConflictRetry(ctx, func(context.Context) error {
			calls++
			return domain.ErrRevisionConflict(nil)
		})
		wantCode(t, err, "doc_conflict")
		if calls != 4 {
			t.Errorf("calls = %d, want 4", calls)
		}
	})

	t.Run("other errors return immediately", func(t *testing.T) {
		calls := 0
		sentinel := errors.New("boom")
		err := withConflictRetry(ctx, func(context.Context) error {
			calls++
			return sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("err = %v", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}
