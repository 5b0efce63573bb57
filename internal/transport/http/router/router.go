package router

import (
	"fmt"
	"net/http"

	"github.com/baechuer/sofauth/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

type HealthHandler interface {
	Healthz(w http.ResponseWriter, r *http.Request)
	Readyz(w http.ResponseWriter, r *http.Request)
}

type AuthHandler interface {
	// Accounts
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Refresh(w http.ResponseWriter, r *http.Request)
	Session(w http.ResponseWriter, r *http.Request)

	// Logout
	Logout(w http.ResponseWriter, r *http.Request)
	LogoutOthers(w http.ResponseWriter, r *http.Request)
	LogoutAll(w http.ResponseWriter, r *http.Request)

	// Password flows
	ForgotPassword(w http.ResponseWriter, r *http.Request)
	PasswordReset(w http.ResponseWriter, r *http.Request)
	PasswordChange(w http.ResponseWriter, r *http.Request)

	// Contact details
	ChangeEmail(w http.ResponseWriter, r *http.Request)
	ChangePhone(w http.ResponseWriter, r *http.Request)
	ConfirmEmail(w http.ResponseWriter, r *http.Request)

	// Providers
	Unlink(w http.ResponseWriter, r *http.Request)

	// Validation probes
	ValidateUsername(w http.ResponseWriter, r *http.Request)
	ValidateEmail(w http.ResponseWriter, r *http.Request)

	// Per-user databases
	AddUserDB(w http.ResponseWriter, r *http.Request)
	RemoveUserDB(w http.ResponseWriter, r *http.Request)
}

// RateLimits carries optional per-route limiters for the abuse-prone
// endpoints. A nil entry leaves that route unlimited.
type RateLimits struct {
	Register func(http.Handler) http.Handler
	Login    func(http.Handler) http.Handler
	Forgot   func(http.Handler) http.Handler
}

type Deps struct {
	Health  HealthHandler
	Auth    AuthHandler
	Metrics http.Handler

	AuthMW func(http.Handler) http.Handler
	Limits RateLimits

	// Optional hardening middlewares; nil entries are skipped. Applied in
	// struct order to every route.
	CORS      func(http.Handler) http.Handler
	Headers   func(http.Handler) http.Handler
	BodyLimit func(http.Handler) http.Handler
}

// New assembles the HTTP surface. Routes are mounted at the root; the
// embedding application picks the prefix.
func New(deps Deps) (http.Handler, error) {
	if deps.Health == nil {
		return nil, fmt.Errorf("nil Health handler")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("nil Auth handler")
	}
	if deps.AuthMW == nil {
		return nil, fmt.Errorf("nil Auth middleware")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	for _, mw := range []func(http.Handler) http.Handler{deps.CORS, deps.Headers, deps.BodyLimit} {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- Accounts ---
	withLimit(r, deps.Limits.Register).Post("/register", deps.Auth.Register)
	withLimit(r, deps.Limits.Login).Post("/login", deps.Auth.Login)
	r.With(deps.AuthMW).Post("/refresh", deps.Auth.Refresh)
	r.With(deps.AuthMW).Get("/session", deps.Auth.Session)

	// --- Logout (key-only; tolerate clients that lost the password half) ---
	r.Post("/logout", deps.Auth.Logout)
	r.With(deps.AuthMW).Post("/logout-others", deps.Auth.LogoutOthers)
	r.Post("/logout-all", deps.Auth.LogoutAll)

	// --- Password flows ---
	withLimit(r, deps.Limits.Forgot).Post("/forgot-password", deps.Auth.ForgotPassword)
	r.Post("/password-reset", deps.Auth.PasswordReset)
	r.With(deps.AuthMW).Post("/password-change", deps.Auth.PasswordChange)

	// --- Contact details ---
	r.With(deps.AuthMW).Post("/change-email", deps.Auth.ChangeEmail)
	r.With(deps.AuthMW).Post("/change-phone", deps.Auth.ChangePhone)
	r.Get("/confirm-email/{token}", deps.Auth.ConfirmEmail)

	// --- Providers ---
	r.With(deps.AuthMW).Post("/unlink/{provider}", deps.Auth.Unlink)

	// --- Validation probes ---
	r.Get("/validate-username/{username}", deps.Auth.ValidateUsername)
	r.Get("/validate-email/{email}", deps.Auth.ValidateEmail)

	// --- Per-user databases ---
	r.With(deps.AuthMW).Post("/user-db/{name}", deps.Auth.AddUserDB)
	r.With(deps.AuthMW).Delete("/user-db/{name}", deps.Auth.RemoveUserDB)

	return r, nil
}

func withLimit(r chi.Router, mw func(http.Handler) http.Handler) chi.Router {
	if mw == nil {
		return r
	}
	return r.With(mw)
}
