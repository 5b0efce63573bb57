package dto

// Login and refresh return the application-level session response verbatim;
// it is a wire shape of its own. The types below cover the remaining
// endpoints.

// -------- Registration --------

// RegisterResponse acknowledges a signup that did not auto-login.
type RegisterResponse struct {
	OK      bool   `json:"ok"`
	Success string `json:"success"`
	UserID  string `json:"user_id"`
}

// -------- Session introspection --------

// SessionInfo is returned by GET /session after a bearer confirm.
type SessionInfo struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Token  string   `json:"token"`
}

// -------- Validation probes --------

// ValidationResult is returned by the validate-username / validate-email
// probes when the value is available.
type ValidationResult struct {
	OK bool `json:"ok"`
}

// -------- User databases --------

// UserDBResponse acknowledges a provisioned per-user database with its final
// (physical) name.
type UserDBResponse struct {
	OK bool   `json:"ok"`
	DB string `json:"db"`
}
