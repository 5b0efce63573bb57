package domain

import "time"

// Lifecycle event names broadcast by the user service. Subscribers (audit,
// metrics, broker forwarding) consume these; they never feed back into the
// core control flow.
const (
	EventSignup         = "signup"
	EventLogin          = "login"
	EventRefresh        = "refresh"
	EventLogout         = "logout"
	EventLogoutAll      = "logout-all"
	EventPasswordReset  = "password-reset"
	EventPasswordChange = "password-change"
	EventForgotPassword = "forgot-password"
	EventEmailVerified  = "email-verified"
	EventEmailChanged   = "email-changed"
	EventPhoneChanged   = "phone-changed"
	EventUserDBAdded    = "user-db-added"
	EventUserDBRemoved  = "user-db-removed"
)

// Event is the payload published for every lifecycle event.
type Event struct {
	Name     string    `json:"name"`
	UserID   string    `json:"user_id,omitempty"`
	Provider string    `json:"provider,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Session  string    `json:"session,omitempty"`
	DB       string    `json:"db,omitempty"`
	At       time.Time `json:"at"`
}
