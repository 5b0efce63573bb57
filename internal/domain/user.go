package domain

import (
	"encoding/json"
	"slices"
)

// UserDoc is the persisted user document. Field names follow the stored JSON
// shape; millisecond timestamps keep existing documents readable as-is.
//
// Federated provider payloads live at the document root under the provider
// name ("google": {auth, profile}), so the codec below folds unknown keys into
// Accounts (for names listed in Providers) or Extra (anything else, such as
// fields injected by a static user-model overlay).
type UserDoc struct {
	ID              string                  `json:"_id,omitempty"`
	Rev             string                  `json:"_rev,omitempty"`
	Type            string                  `json:"type,omitempty"`
	Username        string                  `json:"username,omitempty"`
	Email           string                  `json:"email,omitempty"`
	Phone           string                  `json:"phone,omitempty"`
	UnverifiedEmail *UnverifiedEmail        `json:"unverifiedEmail,omitempty"`
	Providers       []string                `json:"providers,omitempty"`
	Local           *LocalAuth              `json:"local,omitempty"`
	Roles           []string                `json:"roles,omitempty"`
	SignUp          *SignUpInfo             `json:"signUp,omitempty"`
	Session         map[string]SessionEntry `json:"session,omitempty"`
	PersonalDBs     map[string]PersonalDB   `json:"personalDBs,omitempty"`
	Activity        []ActivityEntry         `json:"activity,omitempty"`
	ForgotPassword  *ForgotPassword         `json:"forgotPassword,omitempty"`
	Profile         map[string]any          `json:"profile,omitempty"`

	Accounts map[string]ProviderAccount `json:"-"`
	Extra    map[string]any             `json:"-"`
}

// ProviderAccount holds the normalized credentials and profile a federated
// provider handed us.
type ProviderAccount struct {
	Auth    map[string]any `json:"auth,omitempty"`
	Profile map[string]any `json:"profile,omitempty"`
}

// LocalAuth carries the password-derived credentials. Salt and DerivedKey are
// always set together.
type LocalAuth struct {
	Salt                string `json:"salt,omitempty"`
	DerivedKey          string `json:"derived_key,omitempty"`
	FailedLoginAttempts int    `json:"failedLoginAttempts,omitempty"`
	LockedUntil         int64  `json:"lockedUntil,omitempty"`
}

type UnverifiedEmail struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type SignUpInfo struct {
	Provider  string `json:"provider"`
	Timestamp string `json:"timestamp"`
	IP        string `json:"ip,omitempty"`
}

// SessionEntry mirrors a live token record; expires matches the session
// store's copy.
type SessionEntry struct {
	Issued   int64  `json:"issued"`
	Expires  int64  `json:"expires"`
	Provider string `json:"provider,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// PersonalDB records a provisioned database. The map key on the user document
// is the physical database name; Name stays the logical, prefix-free one.
type PersonalDB struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Permissions []string `json:"permissions,omitempty"`
	AdminRoles  []string `json:"adminRoles,omitempty"`
	MemberRoles []string `json:"memberRoles,omitempty"`
}

type ActivityEntry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Provider  string `json:"provider,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// ForgotPassword stores only the hash of the emailed reset token.
type ForgotPassword struct {
	Token   string `json:"token"`
	Issued  int64  `json:"issued"`
	Expires int64  `json:"expires"`
}

const (
	DBTypePrivate = "private"
	DBTypeShared  = "shared"

	ProviderLocal = "local"
)

func (u *UserDoc) HasProvider(name string) bool {
	return slices.Contains(u.Providers, name)
}

// AddProvider appends name keeping the list ordered-unique.
func (u *UserDoc) AddProvider(name string) {
	if !u.HasProvider(name) {
		u.Providers = append(u.Providers, name)
	}
}

func (u *UserDoc) RemoveProvider(name string) {
	u.Providers = slices.DeleteFunc(u.Providers, func(p string) bool { return p == name })
}

// LoginValues returns the populated values among the given username keys.
func (u *UserDoc) LoginValues(usernameKeys []string) []string {
	var vals []string
	for _, k := range usernameKeys {
		switch k {
		case "username":
			if u.Username != "" {
				vals = append(vals, u.Username)
			}
		case "email":
			if u.Email != "" {
				vals = append(vals, u.Email)
			}
		case "phone":
			if u.Phone != "" {
				vals = append(vals, u.Phone)
			}
		}
	}
	return vals
}

// reserved document keys that the codec must not treat as provider accounts
// or overlay fields.
var reservedDocKeys = map[string]struct{}{
	"_id": {}, "_rev": {}, "_deleted": {}, "type": {},
	"username": {}, "email": {}, "phone": {}, "unverifiedEmail": {},
	"providers": {}, "local": {}, "roles": {}, "signUp": {},
	"session": {}, "personalDBs": {}, "activity": {},
	"forgotPassword": {}, "profile": {},
}

func (u UserDoc) MarshalJSON() ([]byte, error) {
	type alias UserDoc
	base, err := json.Marshal(alias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Accounts) == 0 && len(u.Extra) == 0 {
		return base, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for name, acct := range u.Accounts {
		raw, err := json.Marshal(acct)
		if err != nil {
			return nil, err
		}
		m[name] = raw
	}
	for name, v := range u.Extra {
		if _, taken := m[name]; taken {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		m[name] = raw
	}
	return json.Marshal(m)
}

func (u *UserDoc) UnmarshalJSON(data []byte) error {
	type alias UserDoc
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*u = UserDoc(a)

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, raw := range m {
		if _, ok := reservedDocKeys[k]; ok {
			continue
		}
		if u.HasProvider(k) {
			var acct ProviderAccount
			if err := json.Unmarshal(raw, &acct); err != nil {
				return err
			}
			if u.Accounts == nil {
				u.Accounts = make(map[string]ProviderAccount)
			}
			u.Accounts[k] = acct
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if u.Extra == nil {
			u.Extra = make(map[string]any)
		}
		u.Extra[k] = v
	}
	return nil
}
