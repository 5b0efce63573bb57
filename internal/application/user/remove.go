package user

import (
	"context"
	"slices"

	"github.com/baechuer/sofauth/internal/domain"
)

// Remove deletes an account: every session is revoked first, then the private
// databases go away when destroyDBs is set, and finally the document itself.
// Shared databases always survive their members.
func (s *Service) Remove(ctx context.Context, userID string, destroyDBs bool) error {
	doc, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.logoutUserSessions(ctx, doc, logoutAll, ""); err != nil {
		return err
	}
	if destroyDBs {
		physicals := make([]string, 0, len(doc.PersonalDBs))
		for physical, pdb := range doc.PersonalDBs {
			if pdb.Type == domain.DBTypePrivate {
				physicals = append(physicals, physical)
			}
		}
		slices.Sort(physicals)
		for _, physical := range physicals {
			if err := s.dbAuth.RemoveDB(ctx, physical); err != nil {
				return err
			}
		}
	}
	if err := s.users.Delete(ctx, doc); err != nil {
		return err
	}
	s.audit("user.removed", map[string]string{"user_id": userID})
	return nil
}

// LogActivity appends an entry to a user's activity log. Callers already
// holding the document pass it in and decide whether this call persists;
// passing nil fetches and saves in one step.
func (s *Service) LogActivity(ctx context.Context, userID, action, provider, ip string, doc *domain.UserDoc, save bool) (*domain.UserDoc, error) {
	if doc == nil {
		var err error
		doc, err = s.users.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		save = true
	}
	s.addActivity(doc, action, provider, ip)
	if save {
		if _, err := s.users.Put(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
