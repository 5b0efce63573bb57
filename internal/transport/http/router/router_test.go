package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echo(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

type fakeHealth struct{}

func (fakeHealth) Healthz(w http.ResponseWriter, _ *http.Request) { echo(w, "ok") }
func (fakeHealth) Readyz(w http.ResponseWriter, _ *http.Request)  { echo(w, "ready") }

// fakeAuth echoes the handler name so dispatch tests can tell routes apart.
type fakeAuth struct{}

func (fakeAuth) Register(w http.ResponseWriter, _ *http.Request) { echo(w, "register") }
func (fakeAuth) Login(w http.ResponseWriter, _ *http.Request)    { echo(w, "login") }
func (fakeAuth) Refresh(w http.ResponseWriter, _ *http.Request)  { echo(w, "refresh") }
func (fakeAuth) Session(w http.ResponseWriter, _ *http.Request)  { echo(w, "session") }

func (fakeAuth) Logout(w http.ResponseWriter, _ *http.Request)       { echo(w, "logout") }
func (fakeAuth) LogoutOthers(w http.ResponseWriter, _ *http.Request) { echo(w, "logout_others") }
func (fakeAuth) LogoutAll(w http.ResponseWriter, _ *http.Request)    { echo(w, "logout_all") }

func (fakeAuth) ForgotPassword(w http.ResponseWriter, _ *http.Request) { echo(w, "forgot_password") }
func (fakeAuth) PasswordReset(w http.ResponseWriter, _ *http.Request)  { echo(w, "password_reset") }
func (fakeAuth) PasswordChange(w http.ResponseWriter, _ *http.Request) { echo(w, "password_change") }

func (fakeAuth) ChangeEmail(w http.ResponseWriter, _ *http.Request)  { echo(w, "change_email") }
func (fakeAuth) ChangePhone(w http.ResponseWriter, _ *http.Request)  { echo(w, "change_phone") }
func (fakeAuth) ConfirmEmail(w http.ResponseWriter, _ *http.Request) { echo(w, "confirm_email") }

func (fakeAuth) Unlink(w http.ResponseWriter, _ *http.Request) { echo(w, "unlink") }

func (fakeAuth) ValidateUsername(w http.ResponseWriter, _ *http.Request) {
	echo(w, "validate_username")
}
func (fakeAuth) ValidateEmail(w http.ResponseWriter, _ *http.Request) { echo(w, "validate_email") }

func (fakeAuth) AddUserDB(w http.ResponseWriter, _ *http.Request)    { echo(w, "add_user_db") }
func (fakeAuth) RemoveUserDB(w http.ResponseWriter, _ *http.Request) { echo(w, "remove_user_db") }

func passMW(next http.Handler) http.Handler { return next }

// tagMW stamps a response header so tests can see which middlewares ran.
func tagMW(key, val string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(key, val)
			next.ServeHTTP(w, r)
		})
	}
}

func routerWith(t *testing.T, deps Deps) http.Handler {
	t.Helper()

	h, err := New(deps)
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return h
}

func send(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestNew_RejectsMissingDeps(t *testing.T) {
	cases := []struct {
		name string
		deps Deps
	}{
		{"nil health", Deps{Auth: fakeAuth{}, AuthMW: passMW}},
		{"nil auth", Deps{Health: fakeHealth{}, AuthMW: passMW}},
		{"nil auth middleware", Deps{Health: fakeHealth{}, Auth: fakeAuth{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.deps); err == nil {
				t.Fatal("router built without a required dependency")
			}
		})
	}
}

func TestRoutesDispatchToTheirHandlers(t *testing.T) {
	h := routerWith(t, Deps{Health: fakeHealth{}, Auth: fakeAuth{}, AuthMW: passMW})

	cases := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/healthz", "ok"},
		{http.MethodGet, "/readyz", "ready"},
		{http.MethodPost, "/register", "register"},
		{http.MethodPost, "/login", "login"},
		{http.MethodPost, "/refresh", "refresh"},
		{http.MethodGet, "/session", "session"},
		{http.MethodPost, "/logout", "logout"},
		{http.MethodPost, "/logout-others", "logout_others"},
		{http.MethodPost, "/logout-all", "logout_all"},
		{http.MethodPost, "/forgot-password", "forgot_password"},
		{http.MethodPost, "/password-reset", "password_reset"},
		{http.MethodPost, "/password-change", "password_change"},
		{http.MethodPost, "/change-email", "change_email"},
		{http.MethodPost, "/change-phone", "change_phone"},
		{http.MethodGet, "/confirm-email/tok-1", "confirm_email"},
		{http.MethodPost, "/unlink/facebook", "unlink"},
		{http.MethodGet, "/validate-username/kirby", "validate_username"},
		{http.MethodGet, "/validate-email/k@example.com", "validate_email"},
		{http.MethodPost, "/user-db/notes", "add_user_db"},
		{http.MethodDelete, "/user-db/notes", "remove_user_db"},
	}
	for _, tc := range cases {
		rr := send(h, tc.method, tc.path)
		if rr.Code != http.StatusOK {
			t.Errorf("%s %s: status %d", tc.method, tc.path, rr.Code)
		}
		if rr.Body.String() != tc.want {
			t.Errorf("%s %s: body %q, want %q", tc.method, tc.path, rr.Body.String(), tc.want)
		}
	}
}

func TestProtectedRoutesUseAuthMW(t *testing.T) {
	h := routerWith(t, Deps{Health: fakeHealth{}, Auth: fakeAuth{}, AuthMW: tagMW("X-AuthMW", "1")})

	if rr := send(h, http.MethodGet, "/session"); rr.Header().Get("X-AuthMW") != "1" {
		t.Error("/session skipped the auth middleware")
	}
	// Key-only logout serves clients that lost the password half of their
	// token, so it stays reachable without a confirmable session.
	if rr := send(h, http.MethodPost, "/logout"); rr.Header().Get("X-AuthMW") != "" {
		t.Error("/logout must not demand a confirmable session")
	}
}

func TestRegisterRateLimitScopedToRoute(t *testing.T) {
	h := routerWith(t, Deps{
		Health: fakeHealth{},
		Auth:   fakeAuth{},
		AuthMW: passMW,
		Limits: RateLimits{Register: tagMW("X-RL", "register")},
	})

	if rr := send(h, http.MethodPost, "/register"); rr.Header().Get("X-RL") != "register" {
		t.Error("limiter missing on /register")
	}
	if rr := send(h, http.MethodPost, "/password-reset"); rr.Header().Get("X-RL") != "" {
		t.Error("limiter leaked onto /password-reset")
	}
}

func TestMetricsMountedOnlyWhenProvided(t *testing.T) {
	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { echo(w, "metrics") })

	h := routerWith(t, Deps{Health: fakeHealth{}, Auth: fakeAuth{}, AuthMW: passMW, Metrics: scrape})
	if rr := send(h, http.MethodGet, "/metrics"); rr.Body.String() != "metrics" {
		t.Errorf("scrape body %q", rr.Body.String())
	}

	h = routerWith(t, Deps{Health: fakeHealth{}, Auth: fakeAuth{}, AuthMW: passMW})
	if rr := send(h, http.MethodGet, "/metrics"); rr.Code != http.StatusNotFound {
		t.Errorf("unmounted /metrics returned %d", rr.Code)
	}
}

func TestHardeningMiddlewaresApplied(t *testing.T) {
	h := routerWith(t, Deps{
		Health:  fakeHealth{},
		Auth:    fakeAuth{},
		AuthMW:  passMW,
		CORS:    tagMW("X-CORS", "1"),
		Headers: tagMW("X-Headers", "1"),
	})

	rr := send(h, http.MethodGet, "/healthz")
	if rr.Header().Get("X-CORS") != "1" || rr.Header().Get("X-Headers") != "1" {
		t.Error("optional middlewares were not applied")
	}
}

func TestEveryResponseCarriesRequestID(t *testing.T) {
	h := routerWith(t, Deps{Health: fakeHealth{}, Auth: fakeAuth{}, AuthMW: passMW})

	if rr := send(h, http.MethodGet, "/healthz"); rr.Header().Get("X-Request-Id") == "" {
		t.Error("response missing X-Request-Id")
	}
}
