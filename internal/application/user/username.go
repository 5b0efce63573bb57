package user

import (
	"context"
	"strconv"
	"strings"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
	"github.com/baechuer/sofauth/internal/validate"
)

// generateUsername finds the lowest free id in the family base, base1,
// base2, ... scanning existing ids with one range query over
// [base, base+"￿"].
func (s *Service) generateUsername(ctx context.Context, base string) (string, error) {
	base = strings.ToLower(base)
	if base == "" {
		return util.NewUserID(), nil
	}
	ids, err := s.users.AllDocsRange(ctx, base, base+"￿")
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		taken[id] = struct{}{}
	}
	if _, ok := taken[base]; !ok {
		return base, nil
	}
	for n := 1; ; n++ {
		candidate := base + strconv.Itoa(n)
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
	}
}

// ValidateUsername checks format and availability of a candidate username,
// for pre-registration probes.
func (s *Service) ValidateUsername(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return domain.ErrValidationFailed(map[string][]string{"username": {"Username can't be blank"}})
	}
	msg, err := s.validateUsernameField(ctx, username, nil)
	if err != nil {
		return err
	}
	if msg != "" {
		return domain.ErrValidationFailed(map[string][]string{"username": {"Username " + msg}})
	}
	return nil
}

// ValidateEmail checks format and availability of a candidate email, for
// pre-registration probes. With emailUsername the combined view is consulted.
func (s *Service) ValidateEmail(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validate.IsEmail(email) {
		return domain.ErrValidationFailed(map[string][]string{"email": {"Email is not a valid email"}})
	}
	check := s.validateEmailField
	if s.cfg.Local.EmailUsername {
		check = s.validateEmailUsernameField
	}
	msg, err := check(ctx, email, nil)
	if err != nil {
		return err
	}
	if msg != "" {
		return domain.ErrValidationFailed(map[string][]string{"email": {"Email " + msg}})
	}
	return nil
}
