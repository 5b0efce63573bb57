package dto

import (
	"strings"

	"github.com/baechuer/sofauth/internal/domain"
)

// -------- Registration --------

// RegisterForm is the raw signup payload. The user service validates it
// against the configured model (whitelist, validators, sanitizers), so the
// transport passes it through untouched.
type RegisterForm map[string]any

func (f RegisterForm) Validate() error {
	if len(f) == 0 {
		return domain.ErrValidationFailed(map[string][]string{
			"form": {"Request body is required"},
		})
	}
	return nil
}

// -------- Login --------

// LoginRequest carries one local login attempt. The credential field names
// are configurable (local.usernameField / local.passwordField), so the
// handler extracts them from the raw form rather than relying on json tags.
type LoginRequest struct {
	Username      string
	Password      string
	CaptchaPassed bool
}

// LoginRequestFromForm picks the credentials out of a decoded form using the
// configured field names.
func LoginRequestFromForm(form map[string]any, usernameField, passwordField string) LoginRequest {
	req := LoginRequest{}
	if v, ok := form[usernameField].(string); ok {
		req.Username = strings.TrimSpace(v)
	}
	if v, ok := form[passwordField].(string); ok {
		req.Password = v
	}
	if v, ok := form["captchaPassed"].(bool); ok {
		req.CaptchaPassed = v
	}
	return req
}

func (r *LoginRequest) Validate(usernameField, passwordField string) error {
	fields := map[string][]string{}
	if r.Username == "" {
		fields[usernameField] = []string{"Missing " + usernameField}
	}
	if r.Password == "" {
		fields[passwordField] = []string{"Missing " + passwordField}
	}
	if len(fields) > 0 {
		return domain.ErrValidationFailed(fields)
	}
	return nil
}

// -------- Password flows --------

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r *ForgotPasswordRequest) Validate() error {
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	if r.Email == "" {
		return domain.ErrValidationFailed(map[string][]string{
			"email": {"Missing email"},
		})
	}
	return nil
}

// PasswordResetForm is the token-bearing reset payload
// ({token, password, confirmPassword}). The user service validates the
// token and the password pair.
type PasswordResetForm map[string]any

func (f PasswordResetForm) Validate() error {
	if len(f) == 0 {
		return domain.ErrValidationFailed(map[string][]string{
			"form": {"Request body is required"},
		})
	}
	return nil
}

// PasswordChangeForm is the authenticated change payload
// ({currentPassword?, newPassword, confirmPassword}). Whether
// currentPassword is required depends on the account, so the service
// decides.
type PasswordChangeForm map[string]any

func (f PasswordChangeForm) Validate() error {
	if len(f) == 0 {
		return domain.ErrValidationFailed(map[string][]string{
			"form": {"Request body is required"},
		})
	}
	return nil
}

// -------- Contact changes --------

// ChangeEmailRequest sets or clears the account email. An empty newEmail is
// a deliberate clear, guarded by the sole-credential rule in the service.
type ChangeEmailRequest struct {
	NewEmail string `json:"newEmail"`
}

type ChangePhoneRequest struct {
	NewPhone string `json:"newPhone"`
}

// -------- User databases --------

// UserDBRequest provisions an additional per-user database. Zero values fall
// back to the configured model for the logical name.
type UserDBRequest struct {
	Type        string   `json:"type,omitempty"`
	DesignDocs  []string `json:"designDocs,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	AdminRoles  []string `json:"adminRoles,omitempty"`
	MemberRoles []string `json:"memberRoles,omitempty"`
}
