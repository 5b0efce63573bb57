package user

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// Create registers a local account from a submitted form. The login value is
// duplicated into whichever identity field its shape matches, so a single
// form field can serve several username keys.
func (s *Service) Create(ctx context.Context, form map[string]any, ip string) (*domain.UserDoc, error) {
	form = maps.Clone(form)
	if form == nil {
		form = map[string]any{}
	}
	if login, _ := form[s.cfg.Local.UsernameField].(string); login != "" {
		field := s.LoginType(login)
		if _, ok := form[field]; !ok {
			form[field] = login
		}
	}

	clean, err := s.model.Validate(ctx, form)
	if err != nil {
		return nil, err
	}

	var adoptedID, inviteName string
	if s.cfg.Security.InviteOnlyRegistration {
		code, _ := form["inviteCode"].(string)
		adoptedID, inviteName, err = s.checkInvite(ctx, code)
		if err != nil {
			return nil, err
		}
	}

	password, _ := clean["password"].(string)
	delete(clean, "password")
	delete(clean, "confirmPassword")

	doc, err := decodeUserDoc(clean)
	if err != nil {
		return nil, err
	}

	switch {
	case adoptedID != "":
		doc.ID = adoptedID
	case s.cfg.Local.UUIDAsID:
		doc.ID = util.NewUserID()
	case doc.ID != "":
		// username -> _id rename already supplied it
	case doc.Email != "":
		doc.ID = doc.Email
	default:
		doc.ID = util.NewUserID()
	}

	if s.cfg.Local.SendConfirmEmail && doc.Email != "" {
		token, err := util.URLSafeUUID()
		if err != nil {
			return nil, err
		}
		doc.UnverifiedEmail = &domain.UnverifiedEmail{Email: doc.Email, Token: token}
		doc.Email = ""
	}

	salt, derived, err := util.HashPassword(password)
	if err != nil {
		return nil, err
	}
	doc.Local = &domain.LocalAuth{Salt: salt, DerivedKey: derived}
	doc.SignUp = &domain.SignUpInfo{
		Provider:  domain.ProviderLocal,
		Timestamp: s.now().UTC().Format(time.RFC3339),
		IP:        ip,
	}

	if err := s.provisionDefaultDBs(ctx, doc); err != nil {
		return nil, err
	}
	s.addActivity(doc, "signup", domain.ProviderLocal, ip)

	doc, err = s.runTransforms(ctx, s.onCreate, doc, domain.ProviderLocal)
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
	if doc.UnverifiedEmail != nil {
		s.sendMail(ctx, "confirmEmail", doc.UnverifiedEmail.Email, map[string]any{
			"user":  doc,
			"token": doc.UnverifiedEmail.Token,
			"url":   mailURL(s.cfg.Mailer.ConfirmEmailURL, doc.UnverifiedEmail.Token),
		})
	}

	s.audit("user.signup", map[string]string{"user_id": doc.ID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventSignup, UserID: doc.ID, Provider: domain.ProviderLocal, IP: ip})
	return doc, nil
}

// checkInvite verifies an invite code without consuming it; the key is
// deleted only after the registration persisted. A stored 32-character value
// is a reserved user id the new account adopts.
func (s *Service) checkInvite(ctx context.Context, code string) (adoptedID, name string, err error) {
	if code == "" {
		return "", "", domain.ErrMissingInviteCode()
	}
	name = "invite_code:" + code
	stored, err := s.sessions.GetKey(ctx, name)
	if err != nil {
		if domain.Is(err, "key_not_found") {
			return "", "", domain.ErrMissingInviteCode()
		}
		return "", "", err
	}
	if len(stored) == 32 {
		adoptedID = stored
	}
	return adoptedID, name, nil
}

// provisionDefaultDBs creates the configured default databases for a new
// account and records them on the document.
func (s *Service) provisionDefaultDBs(ctx context.Context, doc *domain.UserDoc) error {
	for _, logical := range s.cfg.UserDBs.DefaultDBs.Private {
		if _, err := s.attachUserDB(ctx, doc, logical, UserDBOptions{Type: domain.DBTypePrivate}); err != nil {
			return err
		}
	}
	for _, logical := range s.cfg.UserDBs.DefaultDBs.Shared {
		if _, err := s.attachUserDB(ctx, doc, logical, UserDBOptions{Type: domain.DBTypeShared}); err != nil {
			return err
		}
	}
	return nil
}

// decodeUserDoc converts a validated form into a document through the JSON
// codec, so overlay statics land in Extra exactly as stored JSON would.
func decodeUserDoc(clean map[string]any) (*domain.UserDoc, error) {
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, domain.ErrInternal(err)
	}
	var doc domain.UserDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.ErrInternal(err)
	}
	return &doc, nil
}

// Configured mail URLs end in "token="; the token is appended verbatim.
func mailURL(base, token string) string {
	if base == "" {
		return ""
	}
	return base + token
}
