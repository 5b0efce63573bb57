package user

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/util"
)

// Session selection modes for logoutUserSessions.
const (
	logoutAll     = "all"
	logoutOther   = "other"
	logoutExpired = "expired"
)

// LogoutUser revokes every session a user holds. Either the user id or one of
// their session ids identifies the account.
func (s *Service) LogoutUser(ctx context.Context, userID, sessionID string) error {
	if userID == "" && sessionID == "" {
		return domain.ErrUnauthorized()
	}
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.resolveUser(ctx, userID, sessionID)
		if err != nil {
			if domain.Is(err, "username_not_found") && userID == "" {
				return domain.ErrUnauthorized()
			}
			return err
		}
		userID = doc.ID
		if err := s.logoutUserSessions(ctx, doc, logoutAll, ""); err != nil {
			return err
		}
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}
	s.audit("user.logout", map[string]string{"user_id": userID})
	s.emit(ctx, domain.Event{Name: domain.EventLogout, UserID: userID, Session: sessionID})
	s.emit(ctx, domain.Event{Name: domain.EventLogoutAll, UserID: userID})
	return nil
}

// LogoutSession ends one session. The user document is persisted only when
// its session set actually changed.
func (s *Service) LogoutSession(ctx context.Context, sessionID string) error {
	var userID string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.findByView(ctx, "session", sessionID)
		if err != nil {
			if domain.Is(err, "username_not_found") {
				return domain.ErrUnauthorized()
			}
			return err
		}
		userID = doc.ID
		before := len(doc.Session)
		delete(doc.Session, sessionID)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.sessions.DeleteTokens(gctx, sessionID) })
		g.Go(func() error { return s.dbAuth.RemoveKeys(gctx, sessionID) })
		g.Go(func() error { return s.dbAuth.DeauthorizeUser(gctx, doc, sessionID) })
		if err := g.Wait(); err != nil {
			return err
		}

		if err := s.logoutUserSessions(ctx, doc, logoutExpired, ""); err != nil {
			return err
		}
		if len(doc.Session) == before {
			return nil
		}
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, domain.Event{Name: domain.EventLogout, UserID: userID, Session: sessionID})
	return nil
}

// LogoutOthers ends every session except the given one.
func (s *Service) LogoutOthers(ctx context.Context, sessionID string) error {
	var userID string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.findByView(ctx, "session", sessionID)
		if err != nil {
			if domain.Is(err, "username_not_found") {
				return domain.ErrUnauthorized()
			}
			return err
		}
		userID = doc.ID
		before := len(doc.Session)
		if err := s.logoutUserSessions(ctx, doc, logoutOther, sessionID); err != nil {
			return err
		}
		if len(doc.Session) == before {
			return nil
		}
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}
	s.emit(ctx, domain.Event{Name: domain.EventLogout, UserID: userID, Session: sessionID})
	return nil
}

// logoutUserSessions revokes sessions on an in-memory document: session
// tokens, database credentials and per-database authorizations drop in
// parallel, then the document's session map is pruned. Persisting is the
// caller's job.
func (s *Service) logoutUserSessions(ctx context.Context, doc *domain.UserDoc, op, current string) error {
	var keys []string
	switch op {
	case logoutExpired:
		keys = util.GetExpiredSessions(doc, s.now().UnixMilli())
	case logoutOther:
		keys = slices.DeleteFunc(util.GetSessions(doc), func(k string) bool { return k == current })
	default:
		keys = util.GetSessions(doc)
	}
	if len(keys) == 0 {
		if op == logoutAll {
			doc.Session = nil
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sessions.DeleteTokens(gctx, keys...) })
	g.Go(func() error { return s.dbAuth.RemoveKeys(gctx, keys...) })
	g.Go(func() error { return s.dbAuth.DeauthorizeUser(gctx, doc, keys...) })
	if err := g.Wait(); err != nil {
		return err
	}

	if op == logoutAll {
		doc.Session = nil
		return nil
	}
	for _, k := range keys {
		delete(doc.Session, k)
	}
	return nil
}

func (s *Service) resolveUser(ctx context.Context, userID, sessionID string) (*domain.UserDoc, error) {
	if userID != "" {
		return s.users.Get(ctx, userID)
	}
	return s.findByView(ctx, "session", sessionID)
}
