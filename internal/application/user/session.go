package user

import (
	"context"
	"slices"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/session"
	"github.com/baechuer/sofauth/internal/util"
)

// SessionResponse is the payload returned on login and refresh. UserDBs maps
// logical database names to URLs carrying the session credentials.
type SessionResponse struct {
	Token     string            `json:"token"`
	Password  string            `json:"password"`
	UserID    string            `json:"user_id"`
	UserEmail string            `json:"user_email,omitempty"`
	UserPhone string            `json:"user_phone,omitempty"`
	Roles     []string          `json:"roles"`
	Issued    int64             `json:"issued"`
	Expires   int64             `json:"expires"`
	Provider  string            `json:"provider,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Profile   map[string]any    `json:"profile,omitempty"`
	UserDBs   map[string]string `json:"userDBs,omitempty"`
}

// CreateSession issues a session for a user who already authenticated with
// the named provider. The token is live in the session store and authorized
// against every personal database before it appears on the user document.
func (s *Service) CreateSession(ctx context.Context, userID, provider, ip string) (*SessionResponse, error) {
	doc, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	tok, err := s.generateSession(ctx, doc.ID, doc.Roles)
	if err != nil {
		return nil, err
	}
	tok.Provider = provider
	if err := s.sessions.StoreToken(ctx, tok); err != nil {
		return nil, err
	}
	if err := s.dbAuth.StoreKey(ctx, doc.ID, tok.Key, tok.Password, tok.Expires, doc.Roles); err != nil {
		return nil, err
	}
	dbNames := make([]string, 0, len(doc.PersonalDBs))
	for physical := range doc.PersonalDBs {
		dbNames = append(dbNames, physical)
	}
	slices.Sort(dbNames)
	if err := s.dbAuth.AuthorizeUserSessions(ctx, doc.ID, dbNames, tok.Key, doc.Roles); err != nil {
		return nil, err
	}

	var resp *SessionResponse
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if doc.Session == nil {
			doc.Session = make(map[string]domain.SessionEntry)
		}
		doc.Session[tok.Key] = domain.SessionEntry{
			Issued:   tok.Issued,
			Expires:  tok.Expires,
			Provider: provider,
			IP:       ip,
		}
		if provider == domain.ProviderLocal && doc.Local != nil {
			doc.Local.FailedLoginAttempts = 0
			doc.Local.LockedUntil = 0
		}
		s.addActivity(doc, "login", provider, ip)
		s.applyProfileMapping(doc)
		if err := s.logoutUserSessions(ctx, doc, logoutExpired, ""); err != nil {
			return err
		}
		if _, err := s.users.Put(ctx, doc); err != nil {
			return err
		}
		resp = s.sessionResponse(doc, tok, provider, ip)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit("user.login", map[string]string{"user_id": doc.ID, "provider": provider, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventLogin, UserID: doc.ID, Provider: provider, IP: ip, Session: tok.Key})
	return resp, nil
}

// RefreshSession extends a live session by a full session lifetime. The
// database credential keeps its original expiry; a session refreshed past it
// loses direct database access until the next login.
func (s *Service) RefreshSession(ctx context.Context, key string) (*SessionResponse, error) {
	tok, err := s.sessions.FetchToken(ctx, key)
	if err != nil {
		return nil, domain.ErrInvalidSessionToken()
	}
	nowMS := s.now().UnixMilli()
	tok.Issued = nowMS
	tok.Expires = nowMS + int64(s.cfg.Security.SessionLife)*1000
	if err := s.sessions.StoreToken(ctx, tok); err != nil {
		return nil, err
	}

	var resp *SessionResponse
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.users.Get(ctx, tok.ID)
		if err != nil {
			return err
		}
		if doc.Session == nil {
			doc.Session = make(map[string]domain.SessionEntry)
		}
		entry := doc.Session[key]
		entry.Issued = tok.Issued
		entry.Expires = tok.Expires
		doc.Session[key] = entry
		if err := s.logoutUserSessions(ctx, doc, logoutExpired, ""); err != nil {
			return err
		}
		if _, err := s.users.Put(ctx, doc); err != nil {
			return err
		}
		resp = s.sessionResponse(doc, tok, entry.Provider, entry.IP)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, domain.Event{Name: domain.EventRefresh, UserID: tok.ID, Session: key})
	return resp, nil
}

// ConfirmSession authenticates a bearer key/password pair and returns the
// minimal user view bound to the session.
func (s *Service) ConfirmSession(ctx context.Context, key, password string) (*session.View, error) {
	return s.sessions.ConfirmToken(ctx, key, password)
}

func (s *Service) sessionResponse(doc *domain.UserDoc, tok *domain.SessionToken, provider, ip string) *SessionResponse {
	resp := &SessionResponse{
		Token:     tok.Key,
		Password:  tok.Password,
		UserID:    doc.ID,
		UserEmail: doc.Email,
		UserPhone: doc.Phone,
		Roles:     slices.Clone(doc.Roles),
		Issued:    tok.Issued,
		Expires:   tok.Expires,
		Provider:  provider,
		IP:        ip,
		Profile:   doc.Profile,
	}
	if len(doc.PersonalDBs) > 0 {
		resp.UserDBs = make(map[string]string, len(doc.PersonalDBs))
		for physical, pdb := range doc.PersonalDBs {
			resp.UserDBs[pdb.Name] = util.PublicDBURL(&s.cfg.DBServer, tok.Key, tok.Password, physical)
		}
	}
	return resp
}

// applyProfileMapping synthesizes profile fields from provider profiles.
// Sources are consulted in declaration order; the first provider carrying the
// field wins.
func (s *Service) applyProfileMapping(doc *domain.UserDoc) {
	for field, sources := range s.cfg.Session.ProfileMapping {
		for _, src := range sources {
			acct, ok := doc.Accounts[src.Provider]
			if !ok || acct.Profile == nil {
				continue
			}
			v, ok := acct.Profile[src.Field]
			if !ok || v == nil {
				continue
			}
			if doc.Profile == nil {
				doc.Profile = make(map[string]any)
			}
			doc.Profile[field] = v
			break
		}
	}
}
