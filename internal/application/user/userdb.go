package user

import (
	"context"

	"github.com/baechuer/sofauth/internal/domain"
)

// UserDBOptions overrides the configured database model for one AddUserDB
// call. Zero-valued fields fall back to the model.
type UserDBOptions struct {
	Type        string
	DesignDocs  []string
	Permissions []string
	AdminRoles  []string
	MemberRoles []string
}

// attachUserDB provisions one database and records it on the document.
// Explicit permissions are persisted; model-derived ones are resolved fresh
// every session, so they stay out of the document.
func (s *Service) attachUserDB(ctx context.Context, doc *domain.UserDoc, logicalName string, opts UserDBOptions) (string, error) {
	cfg := s.dbAuth.GetDBConfig(logicalName, opts.Type)
	if len(opts.DesignDocs) > 0 {
		cfg.DesignDocs = opts.DesignDocs
	}
	if len(opts.Permissions) > 0 {
		cfg.Permissions = opts.Permissions
	}
	if len(opts.AdminRoles) > 0 {
		cfg.AdminRoles = opts.AdminRoles
	}
	if len(opts.MemberRoles) > 0 {
		cfg.MemberRoles = opts.MemberRoles
	}

	finalName, err := s.dbAuth.AddUserDB(ctx, doc, logicalName, cfg.DesignDocs, cfg.Type, cfg.Permissions, cfg.AdminRoles, cfg.MemberRoles)
	if err != nil {
		return "", err
	}

	if doc.PersonalDBs == nil {
		doc.PersonalDBs = map[string]domain.PersonalDB{}
	}
	entry := domain.PersonalDB{
		Name:        logicalName,
		Type:        cfg.Type,
		AdminRoles:  cfg.AdminRoles,
		MemberRoles: cfg.MemberRoles,
	}
	if len(opts.Permissions) > 0 {
		entry.Permissions = opts.Permissions
	}
	doc.PersonalDBs[finalName] = entry
	return finalName, nil
}

// AddUserDB provisions a database for an existing user and persists the new
// personalDBs entry.
func (s *Service) AddUserDB(ctx context.Context, userID, logicalName string, opts UserDBOptions) (string, error) {
	var finalName string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		finalName, err = s.attachUserDB(ctx, doc, logicalName, opts)
		if err != nil {
			return err
		}
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return "", err
	}
	s.audit("user.db_added", map[string]string{"user_id": userID, "db": finalName})
	s.emit(ctx, domain.Event{Name: domain.EventUserDBAdded, UserID: userID, DB: finalName})
	return finalName, nil
}

// RemoveUserDB detaches every personalDBs entry whose logical name matches.
// Physical databases are destroyed only when the matching delete flag is set;
// shared databases usually outlive any single member.
func (s *Service) RemoveUserDB(ctx context.Context, userID, logicalName string, deletePrivate, deleteShared bool) error {
	var removed []string
	err := withConflictRetry(ctx, func(ctx context.Context) error {
		doc, err := s.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		removed = removed[:0]
		for physical, pdb := range doc.PersonalDBs {
			if pdb.Name != logicalName {
				continue
			}
			delete(doc.PersonalDBs, physical)
			removed = append(removed, physical)
			destroy := (pdb.Type == domain.DBTypePrivate && deletePrivate) ||
				(pdb.Type == domain.DBTypeShared && deleteShared)
			if destroy {
				if err := s.dbAuth.RemoveDB(ctx, physical); err != nil {
					return err
				}
			}
		}
		if len(removed) == 0 {
			return nil
		}
		_, err = s.users.Put(ctx, doc)
		return err
	})
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	s.audit("user.db_removed", map[string]string{"user_id": userID, "db": logicalName})
	s.emit(ctx, domain.Event{Name: domain.EventUserDBRemoved, UserID: userID, DB: logicalName})
	return nil
}
