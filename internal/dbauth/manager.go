// Package dbauth provisions per-user databases and manages the credentials
// the database server itself will accept for them.
package dbauth

import (
	"context"
	"encoding/json"
	"path/filepath"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/couch"
	"github.com/baechuer/sofauth/internal/domain"
)

// Provider is the database server surface the manager drives: databases,
// their security documents and design docs.
type Provider interface {
	CreateDB(ctx context.Context, name string) error
	DBExists(ctx context.Context, name string) (bool, error)
	DestroyDB(ctx context.Context, name string) error
	Security(ctx context.Context, name string) (*couch.SecurityDoc, error)
	SetSecurity(ctx context.Context, name string, sec *couch.SecurityDoc) error
	PutDesign(ctx context.Context, dbName string, dd *couch.DesignDoc) error
}

// AuthStore is the credential database the server consults when a session key
// authenticates directly against a user database.
type AuthStore interface {
	StoreKey(ctx context.Context, userID, key, password string, expiresMS int64, roles []string) error
	RemoveKeys(ctx context.Context, keys []string) error
	RemoveExpired(ctx context.Context, nowMS int64) (int, error)
}

// APIKeyGenerator is implemented by providers whose hosting service issues
// API keys itself (Cloudant). When present and enabled, session credentials
// come from here instead of local generation.
type APIKeyGenerator interface {
	GenerateAPIKey(ctx context.Context) (key, password string, err error)
}

type Manager struct {
	provider Provider
	auth     AuthStore
	userDBs  config.UserDBs
	cloudant bool
	fs       afero.Fs
	log      zerolog.Logger
	now      func() time.Time
}

func New(provider Provider, auth AuthStore, cfg *config.Config, fs afero.Fs, log zerolog.Logger) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{
		provider: provider,
		auth:     auth,
		userDBs:  cfg.UserDBs,
		cloudant: cfg.DBServer.Cloudant,
		fs:       fs,
		log:      log.With().Str("component", "dbauth").Logger(),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// KeyGenerator exposes the provider's API-key generator when the Cloudant
// mode is enabled and the provider supports it.
func (m *Manager) KeyGenerator() (APIKeyGenerator, bool) {
	if !m.cloudant {
		return nil, false
	}
	gen, ok := m.provider.(APIKeyGenerator)
	return gen, ok
}

// DBConfig is the resolved plan for one logical user database.
type DBConfig struct {
	Name        string
	Type        string
	Permissions []string
	AdminRoles  []string
	MemberRoles []string
	DesignDocs  []string
}

// GetDBConfig resolves a logical database name against the configured model:
// the "_default" entry first, then the named entry on top. An explicit
// typeDefault wins over both.
func (m *Manager) GetDBConfig(logicalName, typeDefault string) DBConfig {
	out := DBConfig{Name: logicalName}
	if def, ok := m.userDBs.Model["_default"]; ok {
		overlayModel(&out, def)
	}
	if named, ok := m.userDBs.Model[logicalName]; ok {
		overlayModel(&out, named)
	}
	if typeDefault != "" {
		out.Type = typeDefault
	}
	if out.Type == "" {
		out.Type = domain.DBTypePrivate
	}
	return out
}

func overlayModel(dst *DBConfig, model config.DBModel) {
	if model.Type != "" {
		dst.Type = model.Type
	}
	if len(model.Permissions) > 0 {
		dst.Permissions = append([]string(nil), model.Permissions...)
	}
	if len(model.AdminRoles) > 0 {
		dst.AdminRoles = append([]string(nil), model.AdminRoles...)
	}
	if len(model.MemberRoles) > 0 {
		dst.MemberRoles = append([]string(nil), model.MemberRoles...)
	}
	if len(model.DesignDocs) > 0 {
		dst.DesignDocs = append([]string(nil), model.DesignDocs...)
	}
}

// AddUserDB materializes one database for a user and returns its physical
// name. Private databases are namespaced per user, shared ones keep the
// logical name and have their security document initialized only on first
// creation. The user's live session keys are granted membership so existing
// sessions can use the new database immediately. Permissions only matter to
// API-key providers; the membership model ignores them.
func (m *Manager) AddUserDB(ctx context.Context, doc *domain.UserDoc, logicalName string, designDocs []string, dbType string, permissions, adminRoles, memberRoles []string) (string, error) {
	finalName := logicalName
	if dbType != domain.DBTypeShared {
		finalName = m.privateDBName(logicalName, doc.ID)
	}

	exists, err := m.provider.DBExists(ctx, finalName)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := m.provider.CreateDB(ctx, finalName); err != nil {
			return "", err
		}
		m.log.Info().Str("db", finalName).Str("user_id", doc.ID).Msg("created user database")
	}

	if !(dbType == domain.DBTypeShared && exists) {
		if err := m.mergeSecurityRoles(ctx, finalName, adminRoles, memberRoles); err != nil {
			return "", err
		}
	}

	for _, name := range designDocs {
		dd, err := m.loadDesignDoc(name)
		if err != nil {
			m.log.Warn().Str("design_doc", name).Err(err).Msg("skipping design doc")
			continue
		}
		if err := m.provider.PutDesign(ctx, finalName, dd); err != nil {
			return "", err
		}
	}

	if keys := activeSessionKeys(doc, m.now().UnixMilli()); len(keys) > 0 {
		if err := m.grantMembership(ctx, finalName, keys); err != nil {
			return "", err
		}
	}
	if len(permissions) > 0 {
		m.log.Debug().Str("db", finalName).Strs("permissions", permissions).Msg("permissions noted for api-key providers")
	}
	return finalName, nil
}

// StoreKey registers a session key as a database credential. The store hashes
// the password at rest.
func (m *Manager) StoreKey(ctx context.Context, userID, key, password string, expiresMS int64, roles []string) error {
	return m.auth.StoreKey(ctx, userID, key, password, expiresMS, roles)
}

// AuthorizeUserSessions grants one session key membership in every listed
// database.
func (m *Manager) AuthorizeUserSessions(ctx context.Context, userID string, dbNames []string, key string, roles []string) error {
	for _, db := range dbNames {
		if err := m.grantMembership(ctx, db, []string{key}); err != nil {
			return err
		}
	}
	m.log.Debug().Str("user_id", userID).Str("key", key).Strs("roles", roles).Int("dbs", len(dbNames)).Msg("authorized session key")
	return nil
}

// DeauthorizeUser revokes the given keys' membership across all of the user's
// personal databases. Databases that no longer exist are skipped.
func (m *Manager) DeauthorizeUser(ctx context.Context, doc *domain.UserDoc, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	for dbName := range doc.PersonalDBs {
		sec, err := m.provider.Security(ctx, dbName)
		if err != nil {
			if domain.Is(err, "key_not_found") {
				continue
			}
			return err
		}
		changed := false
		for _, k := range keys {
			if sec.Members.HasName(k) {
				sec.Members.RemoveName(k)
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := m.provider.SetSecurity(ctx, dbName, sec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) RemoveKeys(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.auth.RemoveKeys(ctx, keys)
}

func (m *Manager) RemoveDB(ctx context.Context, physicalName string) error {
	return m.provider.DestroyDB(ctx, physicalName)
}

// RemoveExpiredKeys clears credentials whose expiry has passed and reports
// how many were removed.
func (m *Manager) RemoveExpiredKeys(ctx context.Context) (int, error) {
	n, err := m.auth.RemoveExpired(ctx, m.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info().Int("removed", n).Msg("removed expired database credentials")
	}
	return n, nil
}

func (m *Manager) privateDBName(logicalName, userID string) string {
	prefix := m.userDBs.PrivatePrefix
	if prefix != "" {
		prefix += "_"
	}
	return prefix + logicalName + "$" + userID
}

func (m *Manager) mergeSecurityRoles(ctx context.Context, dbName string, adminRoles, memberRoles []string) error {
	sec, err := m.provider.Security(ctx, dbName)
	if err != nil {
		return err
	}
	before := len(sec.Admins.Roles) + len(sec.Members.Roles)
	sec.Admins.AddRoles(m.userDBs.DefaultSecurityRoles.Admins)
	sec.Admins.AddRoles(adminRoles)
	sec.Members.AddRoles(m.userDBs.DefaultSecurityRoles.Members)
	sec.Members.AddRoles(memberRoles)
	if len(sec.Admins.Roles)+len(sec.Members.Roles) == before {
		return nil
	}
	return m.provider.SetSecurity(ctx, dbName, sec)
}

func (m *Manager) grantMembership(ctx context.Context, dbName string, keys []string) error {
	sec, err := m.provider.Security(ctx, dbName)
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if !sec.Members.HasName(k) {
			sec.Members.AddName(k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.provider.SetSecurity(ctx, dbName, sec)
}

func (m *Manager) loadDesignDoc(name string) (*couch.DesignDoc, error) {
	path := filepath.Join(m.userDBs.DesignDocDir, name+".json")
	raw, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, err
	}
	var dd couch.DesignDoc
	if err := json.Unmarshal(raw, &dd); err != nil {
		return nil, err
	}
	if dd.ID == "" {
		dd.ID = "_design/" + name
	}
	dd.Rev = ""
	return &dd, nil
}

func activeSessionKeys(doc *domain.UserDoc, nowMS int64) []string {
	var keys []string
	for k, s := range doc.Session {
		if s.Expires > nowMS {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}
