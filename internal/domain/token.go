package domain

// SessionToken is the full record kept in the session store, keyed by Key.
// Password is the only shared secret handed to the client and to the database
// auth store; it never touches the user document.
type SessionToken struct {
	ID       string   `json:"_id"`
	Key      string   `json:"key"`
	Password string   `json:"password"`
	Issued   int64    `json:"issued"`
	Expires  int64    `json:"expires"`
	Provider string   `json:"provider,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}
