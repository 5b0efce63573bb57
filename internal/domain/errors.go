package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind buckets errors by the HTTP status they map to.
type ErrKind string

const (
	KindValidation     ErrKind = "validation"     // 400
	KindAuth           ErrKind = "auth"           // 401
	KindForbidden      ErrKind = "forbidden"      // 403
	KindNotFound       ErrKind = "not_found"      // 404
	KindConflict       ErrKind = "conflict"       // 409
	KindTooLarge       ErrKind = "too_large"      // 413
	KindRateLimited    ErrKind = "rate_limited"   // 429
	KindInfrastructure ErrKind = "infrastructure" // 503
	KindInternal       ErrKind = "internal"       // 500
)

// Error is the structured failure every layer hands upward. Code is the
// stable machine string clients switch on and must not change casually;
// Message is safe to show them. ValidationErrors carries per-field detail on
// validation_failed only, Locked tells clients to render a captcha, and
// Cause stays server-side for logs.
type Error struct {
	Kind             ErrKind
	Code             string
	Message          string
	ValidationErrors map[string][]string
	Locked           bool
	Meta             map[string]string
	Cause            error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Status maps the error kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func New(kind ErrKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap keeps cause reachable through errors.Is / errors.As.
func Wrap(kind ErrKind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Cause: cause}
}

func WithMeta(err *Error, meta map[string]string) *Error {
	err.Meta = meta
	return err
}

// Is reports whether err is a domain error carrying the given code.
func Is(err error, code string) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Validation (400)

func ErrValidationFailed(fields map[string][]string) *Error {
	e := New(KindValidation, "validation_failed", "Validation failed")
	e.ValidationErrors = fields
	return e
}

func ErrInvalidJSON(cause error) *Error {
	return Wrap(KindValidation, "invalid_json", "invalid JSON body", cause)
}

func ErrMissingInviteCode() *Error {
	return New(KindValidation, "missing_invite_code", "An invite code is required for registration")
}

func ErrInvalidToken() *Error {
	return New(KindValidation, "invalid_token", "Invalid token")
}

func ErrExpiredToken() *Error {
	return New(KindValidation, "expired_token", "Your token has expired")
}

// ErrInvalidEmailToken is returned on email-confirmation misses. The code
// spelling differs from the password-reset one for wire compatibility.
func ErrInvalidEmailToken() *Error {
	return New(KindValidation, "invalidToken", "Invalid token")
}

// Code spelling is part of the wire contract, typo included.
func ErrMissingCurrentPassword() *Error {
	return New(KindValidation, "missing_current_passowrd", "You must supply your current password in order to change it")
}

func ErrInvalidCurrentPassword() *Error {
	return New(KindValidation, "invalid_current_password", "The current password you supplied is incorrect")
}

func ErrOnlyLoginCredential() *Error {
	return New(KindValidation, "only_login_credential", "You cannot set your only login credential to null!")
}

func ErrPasswordNotSet() *Error {
	return New(KindValidation, "password_not_set", "The user does not have a password set")
}

func ErrUnlinkOnlyProvider() *Error {
	return New(KindValidation, "unlink_only_provider", "You can't unlink your only provider!")
}

func ErrUnlinkLocal() *Error {
	return New(KindValidation, "unlink_local", "You can't unlink local")
}

func ErrMissingProviderToUnlink() *Error {
	return New(KindValidation, "missing_provider_to_unlink", "You must specify a provider to unlink")
}

// Auth (401)

func ErrUnauthorized() *Error {
	return New(KindAuth, "unauthorized", "Unauthorized")
}

// ErrInvalidSessionToken covers malformed or unconfirmable bearer tokens.
func ErrInvalidSessionToken() *Error {
	return New(KindAuth, "unauthorized", "invalid token")
}

// IMPORTANT: use this for login failures to avoid user enumeration.
func ErrFailedLogin() *Error {
	return New(KindAuth, "failed_login", "Invalid username or password")
}

func ErrSoftLocked() *Error {
	e := New(KindAuth, "soft_locked", "Your account is temporarily locked")
	e.Locked = true
	return e
}

func ErrMissingCaptcha() *Error {
	e := New(KindAuth, "missing_captcha", "Your account is temporarily locked. Please complete the captcha to continue")
	e.Locked = true
	return e
}

func ErrEmailUnconfirmed() *Error {
	return New(KindAuth, "email_unconfirmed", "You must confirm your email address before logging in")
}

func ErrAccountLocked(lockoutSeconds int) *Error {
	e := New(KindAuth, "locked", fmt.Sprintf(
		"Maximum failed login attempts exceeded. Your account has been locked for %d minutes", lockoutSeconds/60))
	e.Locked = true
	return e
}

// Conflict (409)

func ErrProviderInUse(provider string) *Error {
	return New(KindConflict, "inuse_"+provider,
		fmt.Sprintf("This %s account is already linked to another user", provider))
}

func ErrProviderConflict(provider string) *Error {
	return New(KindConflict, "conflict_"+provider,
		fmt.Sprintf("Your account is already linked to a different %s profile", provider))
}

func ErrEmailInUse() *Error {
	return New(KindConflict, "inuse_email", "That email address is already in use")
}

func ErrEmailInUseLink() *Error {
	return New(KindConflict, "inuse_email_link", "The email address on that profile is already in use by another account")
}

// ErrRevisionConflict signals a lost optimistic-concurrency race; callers
// re-read and retry.
func ErrRevisionConflict(cause error) *Error {
	return Wrap(KindConflict, "doc_conflict", "document update conflict", cause)
}

// Not Found (404)

func ErrUserNotFound() *Error {
	return New(KindNotFound, "username_not_found", "User not found")
}

func ErrProviderNotFound(provider string) *Error {
	return New(KindNotFound, "provider_not_found", fmt.Sprintf("Provider: %s not found", provider))
}

// ErrKeyNotFound covers session-store and auth-store key misses.
func ErrKeyNotFound() *Error {
	return New(KindNotFound, "key_not_found", "key not found")
}

// Rate limiting (429) / payload caps (413)

func ErrRateLimited(route string) *Error {
	e := New(KindRateLimited, "rate_limited", "Too many requests, slow down")
	e.Meta = map[string]string{"route": route}
	return e
}

func ErrPayloadTooLarge(limit int64) *Error {
	e := New(KindTooLarge, "payload_too_large", "Request body too large")
	e.Meta = map[string]string{"limit_bytes": fmt.Sprintf("%d", limit)}
	return e
}

// Infrastructure / internal (5xx)

func ErrDBUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "db_unavailable", "database unavailable", cause)
}

func ErrRedisUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "redis_unavailable", "session store unavailable", cause)
}

func ErrRabbitUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "rabbit_unavailable", "message broker unavailable", cause)
}

func ErrMailerUnavailable(cause error) *Error {
	return Wrap(KindInfrastructure, "mailer_unavailable", "mail delivery unavailable", cause)
}

func ErrHashFailed(cause error) *Error {
	return Wrap(KindInternal, "hash_failed", "password hashing failed", cause)
}

func ErrRandomFailed(cause error) *Error {
	return Wrap(KindInternal, "random_failed", "random generation failed", cause)
}

func ErrInternal(cause error) *Error {
	return Wrap(KindInternal, "internal_error", "internal error", cause)
}
