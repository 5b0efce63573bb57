package user

import (
	"context"

	"github.com/baechuer/sofauth/internal/domain"
)

// HandleFailedLogin counts a bad password attempt and locks the account once
// the configured threshold is exceeded. A no-op when maxFailedLogins is
// unset. The return value reports whether the account is locked now; the
// caller owns the login response.
func (s *Service) HandleFailedLogin(ctx context.Context, doc *domain.UserDoc, ip string) (bool, error) {
	max := s.cfg.Security.MaxFailedLogins
	if max <= 0 {
		return false, nil
	}
	userID := doc.ID
	attemptDoc := doc
	locked := false
	err := withConflictRetry(ctx, func(ctx context.Context) error {
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
		cur.Local.FailedLoginAttempts++
		locked = cur.Local.FailedLoginAttempts > max
		if locked {
			cur.Local.LockedUntil = s.now().UnixMilli() + int64(s.cfg.Security.LockoutTime)*1000
		}
		s.addActivity(cur, "failed login", domain.ProviderLocal, ip)
		_, err := s.users.Put(ctx, cur)
		return err
	})
	if err != nil {
		return false, err
	}
	if locked {
		s.audit("user.locked", map[string]string{"user_id": userID, "ip": ip})
	}
	return locked, nil
}
