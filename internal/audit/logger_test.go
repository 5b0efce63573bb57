package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/domain"
)

func capture(t *testing.T) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(zerolog.New(&buf)), &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("log line not JSON: %v (%s)", err, buf.String())
	}
	return entry
}

func TestHandleEventLogin(t *testing.T) {
	l, buf := capture(t)

	l.HandleEvent(domain.Event{
		Name: domain.EventLogin, UserID: "u1", Provider: "local",
		IP: "1.2.3.4", Session: "key-a",
	})

	entry := lastEntry(t, buf)
	if entry["audit"] != true {
		t.Errorf("missing audit marker: %v", entry)
	}
	if entry["action"] != "login" || entry["user_id"] != "u1" || entry["session"] != "key-a" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["message"] != "User logged in" {
		t.Errorf("unexpected message %v", entry["message"])
	}
}

func TestHandleEventRevokeAllWarns(t *testing.T) {
	l, buf := capture(t)

	l.HandleEvent(domain.Event{Name: domain.EventLogoutAll, UserID: "u1"})

	entry := lastEntry(t, buf)
	if entry["level"] != "warn" {
		t.Errorf("revoking every session should warn, got %v", entry["level"])
	}
	if entry["action"] != "sessions_revoked" {
		t.Errorf("unexpected action %v", entry["action"])
	}
}

func TestHandleEventRouting(t *testing.T) {
	cases := []struct {
		name       string
		wantAction string
		wantMsg    string
	}{
		{domain.EventSignup, "signup", "User registered"},
		{domain.EventRefresh, "session_refreshed", "Session refreshed"},
		{domain.EventLogout, "logout", "User logged out"},
		{domain.EventPasswordReset, "password_changed", "User password changed"},
		{domain.EventPasswordChange, "password_changed", "User password changed"},
		{domain.EventForgotPassword, "password_reset_requested", "Password reset requested"},
		{domain.EventEmailVerified, "email_verified", "Email verified"},
		{domain.EventEmailChanged, "email-changed", "Contact detail changed"},
		{domain.EventPhoneChanged, "phone-changed", "Contact detail changed"},
		{domain.EventUserDBAdded, "user-db-added", "User database changed"},
		{domain.EventUserDBRemoved, "user-db-removed", "User database changed"},
		{"password-expiry-scan", "password-expiry-scan", "User event"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l, buf := capture(t)
			l.HandleEvent(domain.Event{Name: c.name, UserID: "u1"})
			entry := lastEntry(t, buf)
			if entry["action"] != c.wantAction || entry["message"] != c.wantMsg {
				t.Errorf("got action=%v message=%v", entry["action"], entry["message"])
			}
		})
	}
}

func TestActionMasksEmail(t *testing.T) {
	l, buf := capture(t)

	l.Action("change-email", map[string]string{
		"user_id": "u1",
		"email":   "kirby@example.com",
	})

	entry := lastEntry(t, buf)
	if entry["action"] != "change-email" || entry["user_id"] != "u1" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["email"] != "ki***@example.com" {
		t.Errorf("email not masked: %v", entry["email"])
	}
}

func TestMaskEmail(t *testing.T) {
	cases := []struct{ in, want string }{
		{"kirby@example.com", "ki***@example.com"},
		{"a@bc.io", "a***@bc.io"},
		{"a@b", "***"},
		{"", "***"},
	}
	for _, c := range cases {
		if got := maskEmail(c.in); got != c.want {
			t.Errorf("maskEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
