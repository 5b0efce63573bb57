package user

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/dbauth"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/infrastructure/memory"
	"github.com/baechuer/sofauth/internal/session"
)

// testClock is the shared time source every fixture component runs on.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	Template string
	To       string
	Data     map[string]any
}

// fakeMailer records every Send; set err to simulate delivery failure.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, template, to string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{Template: template, To: to, Data: data})
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return m.sent[len(m.sent)-1]
}

// fakeEmitter records lifecycle events in emission order.
type fakeEmitter struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (e *fakeEmitter) Emit(_ context.Context, ev domain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *fakeEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Name
	}
	return out
}

func (e *fakeEmitter) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (e *fakeEmitter) last(t *testing.T, name string) domain.Event {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Name == name {
			return e.events[i]
		}
	}
	t.Fatalf("no %q event emitted; got %v", name, e.events)
	return domain.Event{}
}

// conflictStore fails the next conflicts Puts with a revision conflict before
// letting writes through to the wrapped store.
type conflictStore struct {
	UserStore
	mu        sync.Mutex
	conflicts int
	puts      int
}

func (c *conflictStore) Put(ctx context.Context, doc *domain.UserDoc) (string, error) {
	c.mu.Lock()
	c.puts++
	inject := c.conflicts > 0
	if inject {
		c.conflicts--
	}
	c.mu.Unlock()
	if inject {
		return "", domain.ErrRevisionConflict(nil)
	}
	return c.UserStore.Put(ctx, doc)
}

func (c *conflictStore) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

type auditEntry struct {
	Action string
	Fields map[string]string
}

type fixture struct {
	clock    *testClock
	cfg      *config.Config
	users    *memory.UserStore
	adapter  *memory.SessionAdapter
	sessions *session.Store
	provider *memory.Provider
	authSt   *memory.AuthStore
	dbAuth   *dbauth.Manager
	mailer   *fakeMailer
	emitter  *fakeEmitter
	fs       afero.Fs
	svc      *Service

	mu     sync.Mutex
	audits []auditEntry
}

func testConfig() *config.Config {
	return &config.Config{
		Env:       "test",
		Providers: []string{"google", "facebook"},
		Security: config.Security{
			DefaultRoles:        []string{"user"},
			UserActivityLogSize: 10,
			TokenLife:           86400,
			SessionLife:         86400,
		},
		Local: config.Local{
			UsernameKeys:  []string{"username", "email"},
			UsernameField: "username",
			PasswordField: "password",
			PhoneRegexp:   `^\+?[0-9]{7,15}$`,
		},
		DBServer: config.DBServer{
			Protocol:    "http://",
			Host:        "db.local:5984",
			TypeField:   "type",
			UserDB:      "sofauth_users",
			CouchAuthDB: "_users",
		},
		UserDBs: config.UserDBs{
			PrivatePrefix: "userdb",
		},
		Mailer: config.Mailer{
			FromEmail:        "noreply@sofauth.local",
			ConfirmEmailURL:  "http://app.local/confirm?token=",
			PasswordResetURL: "http://app.local/reset?token=",
		},
	}
}

// newFixture wires the service over the in-memory backends. mutate runs on
// the config before anything is constructed.
func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{clock: newTestClock(), cfg: cfg}
	f.users = memory.NewUserStore()
	if err := f.users.EnsureViews(context.Background(), cfg.Providers); err != nil {
		t.Fatalf("EnsureViews: %v", err)
	}
	f.adapter = memory.NewSessionAdapter().WithClock(f.clock.Now)
	f.sessions = session.NewStore(f.adapter).WithClock(f.clock.Now)
	f.provider = memory.NewProvider()
	f.authSt = memory.NewAuthStore()
	f.fs = afero.NewMemMapFs()
	f.dbAuth = dbauth.New(f.provider, f.authSt, cfg, f.fs, zerolog.Nop()).WithClock(f.clock.Now)
	f.mailer = &fakeMailer{}
	f.emitter = &fakeEmitter{}
	f.rebuild(f.users)
	return f
}

func (f *fixture) rebuild(store UserStore) {
	f.svc = New(store, f.sessions, f.dbAuth, f.mailer, f.emitter, f.cfg, zerolog.Nop()).
		WithClock(f.clock.Now).
		WithAudit(func(action string, fields map[string]string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.audits = append(f.audits, auditEntry{Action: action, Fields: fields})
		})
}

// withConflicts swaps the service onto a store that rejects the next n Puts
// with a revision conflict.
func (f *fixture) withConflicts(n int) *conflictStore {
	cs := &conflictStore{UserStore: f.users, conflicts: n}
	f.rebuild(cs)
	return cs
}

func (f *fixture) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.audits))
	for i, a := range f.audits {
		out[i] = a.Action
	}
	return out
}

func (f *fixture) register(t *testing.T, username, password string) *domain.UserDoc {
	t.Helper()
	doc, err := f.svc.Create(context.Background(), map[string]any{
		"username":        username,
		"email":           username + "@example.com",
		"password":        password,
		"confirmPassword": password,
	}, "10.0.0.1")
	if err != nil {
		t.Fatalf("Create(%q): %v", username, err)
	}
	return doc
}

func (f *fixture) login(t *testing.T, userID string) *SessionResponse {
	t.Helper()
	resp, err := f.svc.CreateSession(context.Background(), userID, "local", "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSession(%q): %v", userID, err)
	}
	return resp
}

func (f *fixture) reload(t *testing.T, id string) *domain.UserDoc {
	t.Helper()
	doc, err := f.users.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%q): %v", id, err)
	}
	return doc
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("want error code %q, got nil", code)
	}
	if !domain.Is(err, code) {
		t.Fatalf("want error code %q, got %v", code, err)
	}
}

func wantFieldError(t *testing.T, err error, field, msg string) {
	t.Helper()
	var de *domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("want validation error, got %v", err)
	}
	if de.Code != "validation_failed" {
		t.Fatalf("want validation_failed, got %q (%v)", de.Code, err)
	}
	for _, m := range de.ValidationErrors[field] {
		if m == msg {
			return
		}
	}
	t.Fatalf("field %q errors %v missing %q", field, de.ValidationErrors[field], msg)
}
