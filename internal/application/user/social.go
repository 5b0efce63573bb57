package user

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// SocialAuth signs a user in with a federated identity, creating the account
// on first sight of the profile. The OAuth layer hands in the normalized
// auth/profile pair; this only consumes it.
func (s *Service) SocialAuth(ctx context.Context, provider string, auth, profile map[string]any, inviteCode, ip string) (*domain.UserDoc, error) {
	pid := profileID(profile)
	if pid == "" {
		return nil, domain.ErrInternal(errors.New("social profile without id"))
	}
	rows, err := s.users.QueryView(ctx, provider, pid, true)
	if err != nil {
		return nil, err
	}

	var doc *domain.UserDoc
	var inviteName string
	newAccount := len(rows) == 0 || rows[0].Doc == nil
	if newAccount {
		if s.cfg.Security.InviteOnlyRegistration {
			if _, inviteName, err = s.checkInvite(ctx, inviteCode); err != nil {
				return nil, err
			}
		}
		if doc, err = s.newSocialUser(ctx, provider, profile, ip); err != nil {
			return nil, err
		}
	} else {
		doc = rows[0].Doc
	}

	delete(profile, "_raw")
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]domain.ProviderAccount)
	}
	doc.Accounts[provider] = domain.ProviderAccount{Auth: auth, Profile: profile}
	doc.AddProvider(provider)

	if newAccount {
		if err := s.provisionDefaultDBs(ctx, doc); err != nil {
			return nil, err
		}
		s.addActivity(doc, "signup", provider, ip)
		doc, err = s.runTransforms(ctx, s.onCreate, doc, provider)
	} else {
		s.addActivity(doc, "login", provider, ip)
		doc, err = s.runTransforms(ctx, s.onLink, doc, provider)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.users.Put(ctx, doc); err != nil {
		return nil, err
	}
	if inviteName != "" {
		if err := s.sessions.DeleteKeys(ctx, inviteName); err != nil {
			s.log.Warn().Err(err).Str("user_id", doc.ID).Msg("invite code cleanup failed")
		}
	}
	if newAccount {
		s.audit("user.signup", map[string]string{"user_id": doc.ID, "provider": provider, "ip": ip})
		s.emit(ctx, domain.Event{Name: domain.EventSignup, UserID: doc.ID, Provider: provider, IP: ip})
	}
	return doc, nil
}

// LinkSocial attaches a federated identity to an existing account.
func (s *Service) LinkSocial(ctx context.Context, userID, provider string, auth, profile map[string]any, ip string) (*domain.UserDoc, error) {
	pid := profileID(profile)
	rows, err := s.users.QueryView(ctx, provider, pid, false)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.ID != userID {
			return nil, domain.ErrProviderInUse(provider)
		}
	}

	var doc *domain.UserDoc
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err = s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if acct, ok := doc.Accounts[provider]; ok {
			if existing := profileID(acct.Profile); existing != "" && existing != pid {
				return domain.ErrProviderConflict(provider)
			}
		}
		if email := profileEmail(profile); email != "" {
			rows, err := s.users.QueryView(ctx, "email", email, false)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if r.ID != userID {
					return domain.ErrEmailInUse()
				}
			}
		}

		delete(profile, "_raw")
		if doc.Accounts == nil {
			doc.Accounts = make(map[string]domain.ProviderAccount)
		}
		doc.Accounts[provider] = domain.ProviderAccount{Auth: auth, Profile: profile}
		doc.AddProvider(provider)
		s.addActivity(doc, "link", provider, ip)

		if doc, err = s.runTransforms(ctx, s.onLink, doc, provider); err != nil {
			return err
		}
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// newSocialUser builds the initial document for a first-time federated login.
func (s *Service) newSocialUser(ctx context.Context, provider string, profile map[string]any, ip string) (*domain.UserDoc, error) {
	doc := &domain.UserDoc{
		Type:      "user",
		Roles:     slices.Clone(s.cfg.Security.DefaultRoles),
		Providers: []string{provider},
		SignUp: &domain.SignUpInfo{
			Provider:  provider,
			Timestamp: s.now().UTC().Format(time.RFC3339),
			IP:        ip,
		},
	}
	if email := profileEmail(profile); email != "" {
		rows, err := s.users.QueryView(ctx, "email", email, false)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return nil, domain.ErrEmailInUseLink()
		}
		doc.Email = email
	}
	if s.cfg.Local.UUIDAsID {
		doc.ID = util.NewUserID()
		return doc, nil
	}
	id, err := s.generateUsername(ctx, baseUsername(profile))
	if err != nil {
		return nil, err
	}
	doc.ID = id
	return doc, nil
}

// baseUsername picks the seed for a generated account id: profile username,
// then the email local part, then the display name with spaces stripped, then
// the raw profile id.
func baseUsername(profile map[string]any) string {
	if v := profileString(profile, "username"); v != "" {
		return v
	}
	if email := profileEmail(profile); email != "" {
		if i := strings.Index(email, "@"); i > 0 {
			return email[:i]
		}
	}
	if v := profileString(profile, "displayName"); v != "" {
		return strings.ReplaceAll(v, " ", "")
	}
	return profileID(profile)
}

func profileString(profile map[string]any, key string) string {
	v, _ := profile[key].(string)
	return v
}

// profileID tolerates numeric ids; some providers send them unquoted.
func profileID(profile map[string]any) string {
	switch v := profile["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// profileEmail pulls the first address from the normalized emails list.
func profileEmail(profile map[string]any) string {
	emails, _ := profile["emails"].([]any)
	for _, e := range emails {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if v, _ := m["value"].(string); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}
