package http_handlers

import (
	"net/http"
	"strings"

	"github.com/baechuer/sofauth/internal/application/strategy"
	"github.com/baechuer/sofauth/internal/application/user"
	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/logger"
	"github.com/baechuer/sofauth/internal/transport/http/dto"
	"github.com/baechuer/sofauth/internal/transport/http/middleware"
	"github.com/baechuer/sofauth/internal/transport/http/response"
	"github.com/go-chi/chi/v5"
)

type AuthHandler struct {
	users *user.Service
	local *strategy.Local
	cfg   *config.Config
}

func NewAuthHandler(users *user.Service, local *strategy.Local, cfg *config.Config) *AuthHandler {
	return &AuthHandler{users: users, local: local, cfg: cfg}
}

// -------- Registration --------

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var form dto.RegisterForm
	if err := response.DecodeJSON(r, &form); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := form.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	ip := middleware.ClientIP(r)
	doc, err := h.users.Create(r.Context(), form, ip)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	log := logger.WithCtx(r.Context())
	log.Info().
		Str("user_id", doc.ID).
		Msg("user_registered")

	if h.cfg.Security.LoginOnRegistration {
		sess, err := h.users.CreateSession(r.Context(), doc.ID, "local", ip)
		if err != nil {
			response.WriteError(w, r, err)
			return
		}
		response.OK(w, sess)
		return
	}

	response.Created(w, dto.RegisterResponse{
		OK:      true,
		Success: "User created.",
		UserID:  doc.ID,
	})
}

// -------- Sessions --------

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var form map[string]any
	if err := response.DecodeJSON(r, &form); err != nil {
		response.WriteError(w, r, err)
		return
	}

	usernameField := h.cfg.Local.UsernameField
	passwordField := h.cfg.Local.PasswordField
	req := dto.LoginRequestFromForm(form, usernameField, passwordField)
	if err := req.Validate(usernameField, passwordField); err != nil {
		response.WriteError(w, r, err)
		return
	}

	ip := middleware.ClientIP(r)
	doc, err := h.local.Authenticate(r.Context(), strategy.Credentials{
		Login:         req.Username,
		Password:      req.Password,
		CaptchaPassed: req.CaptchaPassed,
		IP:            ip,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	sess, err := h.users.CreateSession(r.Context(), doc.ID, "local", ip)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	log := logger.WithCtx(r.Context())
	log.Info().
		Str("user_id", doc.ID).
		Msg("user_logged_in")

	response.OK(w, sess)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	sess, err := h.users.RefreshSession(r.Context(), view.Key)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, sess)
}

// Session reports the confirmed bearer session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	response.OK(w, dto.SessionInfo{
		UserID: view.ID,
		Roles:  view.Roles,
		Token:  view.Key,
	})
}

// -------- Logout --------

// Logout ends the presented session. The key alone suffices; a client
// discarding a session should not need the password half to succeed.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	key := sessionKeyFromHeader(r)
	if key == "" {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	if err := h.users.LogoutSession(r.Context(), key); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Logged out")
}

func (h *AuthHandler) LogoutOthers(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	if err := h.users.LogoutOthers(r.Context(), view.Key); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Other sessions logged out")
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	key := sessionKeyFromHeader(r)
	if key == "" {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	if err := h.users.LogoutUser(r.Context(), "", key); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Logged out")
}

// -------- Password flows --------

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.users.ForgotPassword(r.Context(), req.Email, middleware.ClientIP(r)); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Password recovery email sent.")
}

func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var form dto.PasswordResetForm
	if err := response.DecodeJSON(r, &form); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := form.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.users.ResetPassword(r.Context(), form, middleware.ClientIP(r)); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Password successfully reset.")
}

func (h *AuthHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	var form dto.PasswordChangeForm
	if err := response.DecodeJSON(r, &form); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := form.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	err := h.users.ChangePasswordSecure(r.Context(), view.ID, form, view.Key, middleware.ClientIP(r))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "password changed")
}

// -------- Contact changes --------

func (h *AuthHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	var req dto.ChangeEmailRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.users.ChangeEmail(r.Context(), view.ID, req.NewEmail, middleware.ClientIP(r)); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Email changed")
}

func (h *AuthHandler) ChangePhone(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	var req dto.ChangePhoneRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}

	if err := h.users.ChangePhone(r.Context(), view.ID, req.NewPhone, middleware.ClientIP(r)); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Phone changed")
}

func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))
	if token == "" {
		response.WriteError(w, r, domain.ErrInvalidEmailToken())
		return
	}

	if err := h.users.VerifyEmail(r.Context(), token, middleware.ClientIP(r)); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "Email verified")
}

// -------- Providers --------

func (h *AuthHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		response.WriteError(w, r, domain.ErrMissingProviderToUnlink())
		return
	}

	if _, err := h.users.Unlink(r.Context(), view.ID, provider); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, capitalizeFirst(provider)+" unlinked")
}

// -------- Validation probes --------

func (h *AuthHandler) ValidateUsername(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.users.ValidateUsername(r.Context(), username); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.ValidationResult{OK: true})
}

func (h *AuthHandler) ValidateEmail(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if err := h.users.ValidateEmail(r.Context(), email); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.ValidationResult{OK: true})
}

// -------- User databases --------

func (h *AuthHandler) AddUserDB(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		response.WriteError(w, r, domain.ErrValidationFailed(map[string][]string{
			"name": {"Database name is required"},
		}))
		return
	}

	// Body is optional; an empty body provisions with the configured model.
	var req dto.UserDBRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := response.DecodeJSON(r, &req); err != nil {
			response.WriteError(w, r, err)
			return
		}
	}

	finalName, err := h.users.AddUserDB(r.Context(), view.ID, name, user.UserDBOptions{
		Type:        req.Type,
		DesignDocs:  req.DesignDocs,
		Permissions: req.Permissions,
		AdminRoles:  req.AdminRoles,
		MemberRoles: req.MemberRoles,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.OK(w, dto.UserDBResponse{OK: true, DB: finalName})
}

func (h *AuthHandler) RemoveUserDB(w http.ResponseWriter, r *http.Request) {
	view, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrUnauthorized())
		return
	}

	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		response.WriteError(w, r, domain.ErrValidationFailed(map[string][]string{
			"name": {"Database name is required"},
		}))
		return
	}

	q := r.URL.Query()
	deletePrivate := q.Get("deletePrivate") == "true"
	deleteShared := q.Get("deleteShared") == "true"

	if err := h.users.RemoveUserDB(r.Context(), view.ID, name, deletePrivate, deleteShared); err != nil {
		response.WriteError(w, r, err)
		return
	}

	response.Message(w, "User database removed")
}

// -------- helpers --------

// sessionKeyFromHeader extracts the key half of "Bearer <key>:<password>".
// Logout paths accept the key alone, without confirming the password; a
// client discarding a session may have lost the password half already.
func sessionKeyFromHeader(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	key, _, _ := strings.Cut(strings.TrimSpace(parts[1]), ":")
	return key
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
