package user

import (
	"context"
	"strings"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// VerifyEmail promotes a pending unverified email once the mailed token comes
// back. Unknown tokens are indistinguishable from consumed ones.
func (s *Service) VerifyEmail(ctx context.Context, token, ip string) error {
	var userID string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.findByView(ctx, "verifyEmail", token)
		if err != nil {
			if domain.Is(err, "username_not_found") {
				return domain.ErrInvalidEmailToken()
			}
			return err
		}
		doc.Email = doc.UnverifiedEmail.Email
		doc.UnverifiedEmail = nil
		s.addActivity(doc, "verified email", domain.ProviderLocal, ip)
		if _, err := s.users.Put(ctx, doc); err != nil {
			return err
		}
		userID = doc.ID
		return nil
	})
	if err != nil {
		return err
	}
	s.audit("user.email_verified", map[string]string{"user_id": userID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventEmailVerified, UserID: userID, Provider: domain.ProviderLocal, IP: ip})
	return nil
}

// ChangeEmail updates or clears the account email. With sendConfirmEmail the
// new address sits in unverifiedEmail until the token round-trips; clearing
// is refused when the email is the account's last login credential.
func (s *Service) ChangeEmail(ctx context.Context, userID, newEmail, ip string) error {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail != "" {
		if err := s.ValidateEmail(ctx, newEmail); err != nil {
			return err
		}
	}

	var mailTo, mailToken string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if doc.Local == nil || doc.Local.DerivedKey == "" {
			return domain.ErrPasswordNotSet()
		}
		switch {
		case newEmail == "":
			candidate := *doc
			candidate.Email = ""
			candidate.UnverifiedEmail = nil
			if s.loginCredentialCount(&candidate) == 0 {
				return domain.ErrOnlyLoginCredential()
			}
			doc.Email = ""
			doc.UnverifiedEmail = nil
		case s.cfg.Local.SendConfirmEmail:
			token, err := util.URLSafeUUID()
			if err != nil {
				return err
			}
			doc.UnverifiedEmail = &domain.UnverifiedEmail{Email: newEmail, Token: token}
			mailTo, mailToken = newEmail, token
		default:
			doc.Email = newEmail
		}
		s.addActivity(doc, "changed email", domain.ProviderLocal, ip)
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}

	if mailTo != "" {
		s.sendMail(ctx, "confirmEmail", mailTo, map[string]any{
			"token": mailToken,
			"url":   mailURL(s.cfg.Mailer.ConfirmEmailURL, mailToken),
		})
	}
	s.audit("user.email_changed", map[string]string{"user_id": userID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventEmailChanged, UserID: userID, Provider: domain.ProviderLocal, IP: ip})
	return nil
}

// ChangePhone updates or clears the account phone number. The same
// last-credential guard as ChangeEmail applies.
func (s *Service) ChangePhone(ctx context.Context, userID, newPhone, ip string) error {
	newPhone = strings.TrimSpace(newPhone)
	if newPhone != "" {
		if s.phoneRe != nil && !s.phoneRe.MatchString(newPhone) {
			return domain.ErrValidationFailed(map[string][]string{"phone": {"Phone is not a valid phone number"}})
		}
		msg, err := s.validatePhoneField(ctx, newPhone, nil)
		if err != nil {
			return err
		}
		if msg != "" {
			return domain.ErrValidationFailed(map[string][]string{"phone": {"Phone " + msg}})
		}
	}

	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if doc.Local == nil || doc.Local.DerivedKey == "" {
			return domain.ErrPasswordNotSet()
		}
		if newPhone == "" {
			candidate := *doc
			candidate.Phone = ""
			if s.loginCredentialCount(&candidate) == 0 {
				return domain.ErrOnlyLoginCredential()
			}
		}
		doc.Phone = newPhone
		s.addActivity(doc, "changed phone", domain.ProviderLocal, ip)
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}

	s.audit("user.phone_changed", map[string]string{"user_id": userID, "ip": ip})
	s.emit(ctx, domain.Event{Name: domain.EventPhoneChanged, UserID: userID, Provider: domain.ProviderLocal, IP: ip})
	return nil
}

// loginCredentialCount reports how many enabled username keys still hold a
// value. The document id doubles as the username, so that key always counts
// when enabled.
func (s *Service) loginCredentialCount(doc *domain.UserDoc) int {
	n := 0
	for _, k := range s.cfg.Local.UsernameKeys {
		switch k {
		case "username":
			n++
		case "email":
			if doc.Email != "" || doc.UnverifiedEmail != nil {
				n++
			}
		case "phone":
			if doc.Phone != "" {
				n++
			}
		}
	}
	return n
}
