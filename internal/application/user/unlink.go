package user

import (
	"context"

	"github.com/baechuer/sofauth/internal/domain"
)

// Unlink detaches a federated identity from an account. The last remaining
// provider and the local credential can never be unlinked.
func (s *Service) Unlink(ctx context.Context, userID, provider string) (*domain.UserDoc, error) {
	if provider == "" {
		return nil, domain.ErrMissingProviderToUnlink()
	}
	var doc *domain.UserDoc
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if len(doc.Providers) < 2 {
			return domain.ErrUnlinkOnlyProvider()
		}
		if provider == domain.ProviderLocal {
			return domain.ErrUnlinkLocal()
		}
		if !doc.HasProvider(provider) {
			return domain.ErrProviderNotFound(provider)
		}
		delete(doc.Accounts, provider)
		doc.RemoveProvider(provider)
		s.addActivity(doc, "unlink", provider, "")
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}
