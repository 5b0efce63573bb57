package user

import (
	"context"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
	"github.com/baechuer/sofauth/internal/validate"
)

// ForgotPassword starts a reset flow for the account behind an email address.
// Only the salted hash of the emailed token is persisted.
func (s *Service) ForgotPassword(ctx context.Context, email, ip string) error {
	token, err := util.URLSafeUUID()
	if err != nil {
		return err
	}
	hashed := util.HashToken(token)

	var doc *domain.UserDoc
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.findByView(ctx, "email", email)
		if err != nil {
			return err
		}
		nowMS := s.now().UnixMilli()
		doc.ForgotPassword = &domain.ForgotPassword{
			Token:   hashed,
			Issued:  nowMS,
			Expires: nowMS + int64(s.cfg.Security.TokenLife)*1000,
		}
		s.addActivity(doc, "forgot password", domain.ProviderLocal, ip)
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}

	to := doc.Email
	if to == "" && doc.UnverifiedEmail != nil {
		to = doc.UnverifiedEmail.Email
	}
	s.sendMail(ctx, "forgotPassword", to, map[string]any{
		"user":  doc,
		"token": token,
		"url":   mailURL(s.cfg.Mailer.PasswordResetURL, token),
	})
	s.audit("user.forgot_password", map[string]string{"user_id": doc.ID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventForgotPassword, UserID: doc.ID, IP: ip})
	return nil
}

// ResetPassword redeems an emailed reset token: the password is replaced,
// every session is revoked and the token record removed, in that order.
func (s *Service) ResetPassword(ctx context.Context, form map[string]any, ip string) error {
	clean, err := resetPasswordModel().Validate(ctx, form)
	if err != nil {
		return err
	}
	token, _ := clean["token"].(string)
	password, _ := clean["password"].(string)
	hashed := util.HashToken(token)

	salt, derived, err := util.HashPassword(password)
	if err != nil {
		return err
	}

	var userID string
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.findByView(ctx, "passwordReset", hashed)
		if err != nil {
			if domain.Is(err, "username_not_found") {
				return domain.ErrInvalidToken()
			}
			return err
		}
		if doc.ForgotPassword == nil || doc.ForgotPassword.Expires <= s.now().UnixMilli() {
			return domain.ErrExpiredToken()
		}
		if doc.Local == nil {
			doc.Local = &domain.LocalAuth{}
		}
		doc.Local.Salt, doc.Local.DerivedKey = salt, derived
		doc.AddProvider(domain.ProviderLocal)
		if err := s.logoutUserSessions(ctx, doc, logoutAll, ""); err != nil {
			return err
		}
		doc.ForgotPassword = nil
		s.addActivity(doc, "password reset", domain.ProviderLocal, ip)
		userID = doc.ID
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}

	s.audit("user.password_reset", map[string]string{"user_id": userID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventPasswordReset, UserID: userID, IP: ip})
	return nil
}

// ResetPassword2 is the variant used when the token was verified out of band:
// the caller supplies the username and the new password directly.
func (s *Service) ResetPassword2(ctx context.Context, form map[string]any, ip string) error {
	clean, err := resetPassword2Model().Validate(ctx, form)
	if err != nil {
		return err
	}
	login, _ := clean["username"].(string)
	password, _ := clean["password"].(string)

	doc, err := s.Get(ctx, login)
	if err != nil {
		return err
	}
	return s.ChangePassword(ctx, doc.ID, password, doc, ip)
}

// ChangePasswordSecure verifies the current password before delegating to
// ChangePassword. Accounts without a local credential skip the check. When
// the request carries its session key, every other session is revoked.
func (s *Service) ChangePasswordSecure(ctx context.Context, userID string, form map[string]any, currentSessionKey, ip string) error {
	clean, err := changePasswordModel().Validate(ctx, form)
	if err != nil {
		return err
	}

	doc, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if doc.Local != nil && doc.Local.DerivedKey != "" {
		current, _ := clean["currentPassword"].(string)
		if current == "" {
			return domain.ErrMissingCurrentPassword()
		}
		if err := util.VerifyPassword(doc.Local.Salt, doc.Local.DerivedKey, current); err != nil {
			return domain.ErrInvalidCurrentPassword()
		}
	}

	newPassword, _ := clean["newPassword"].(string)
	if err := s.ChangePassword(ctx, userID, newPassword, doc, ip); err != nil {
		return err
	}
	if currentSessionKey != "" {
		return s.LogoutOthers(ctx, currentSessionKey)
	}
	return nil
}

// ChangePassword overwrites the local credential. A document the caller
// already holds is used for the first write attempt; conflict retries
// re-read.
func (s *Service) ChangePassword(ctx context.Context, userID, newPassword string, doc *domain.UserDoc, ip string) error {
	salt, derived, err := util.HashPassword(newPassword)
	if err != nil {
		return err
	}
	attemptDoc := doc
	err = withConflictRetry(ctx, func(ctx context.Context) error {
		cur := attemptDoc
		attemptDoc = nil
		if cur == nil {
			var err error
			cur, err = s.users.Get(ctx, userID)
			if err != nil {
				return err
			}
		}
		if cur.Local == nil {
			cur.Local = &domain.LocalAuth{}
		}
		cur.Local.Salt, cur.Local.DerivedKey = salt, derived
		cur.AddProvider(domain.ProviderLocal)
		s.addActivity(cur, "changed password", domain.ProviderLocal, ip)
		_, err := s.users.Put(ctx, cur)
		return err
	})
	if err != nil {
		return err
	}

	s.audit("user.password_change", map[string]string{"user_id": userID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventPasswordChange, UserID: userID, IP: ip})
	return nil
}

func resetPasswordModel() *validate.Model {
	return &validate.Model{
		Whitelist: []string{"token", "password", "confirmPassword"},
		Rules: map[string][]validate.Rule{
			"token":           {validate.Presence{}},
			"password":        {validate.Presence{}, validate.Matches{Field: "confirmPassword"}},
			"confirmPassword": {validate.Presence{}},
		},
	}
}

func resetPassword2Model() *validate.Model {
	return &validate.Model{
		Whitelist: []string{"username", "password", "confirmPassword"},
		Sanitize:  map[string][]string{"username": {"trim", "toLowerCase"}},
		Rules: map[string][]validate.Rule{
			"username":        {validate.Presence{}},
			"password":        {validate.Presence{}, validate.Matches{Field: "confirmPassword"}},
			"confirmPassword": {validate.Presence{}},
		},
	}
}

func changePasswordModel() *validate.Model {
	return &validate.Model{
		Whitelist: []string{"currentPassword", "newPassword", "confirmPassword"},
		Rules: map[string][]validate.Rule{
			"newPassword":     {validate.Presence{}, validate.Matches{Field: "confirmPassword"}},
			"confirmPassword": {validate.Presence{}},
		},
	}
}
