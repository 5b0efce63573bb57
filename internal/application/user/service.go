package user

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/dbauth"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/session"
	"github.com/baechuer/sofauth/internal/util"
	"github.com/baechuer/sofauth/internal/validate"
)

// TransformFn rewrites a user document during registration (onCreate) or
// provider linking (onLink). Transformations run in registration order; each
// receives the previous one's result and must return a non-nil document.
type TransformFn func(ctx context.Context, doc *domain.UserDoc, provider string) (*domain.UserDoc, error)

// Writes retry this many times after a lost revision race before giving up.
const conflictRetries = 3

type Service struct {
	users    UserStore
	sessions *session.Store
	dbAuth   *dbauth.Manager
	mailer   Mailer
	emitter  Emitter

	cfg     *config.Config
	model   *validate.Model
	phoneRe *regexp.Regexp
	log     zerolog.Logger
	audit   func(action string, fields map[string]string)
	now     func() time.Time

	onCreate []TransformFn
	onLink   []TransformFn
}

func New(
	users UserStore,
	sessions *session.Store,
	dbAuth *dbauth.Manager,
	mailer Mailer,
	emitter Emitter,
	cfg *config.Config,
	log zerolog.Logger,
) *Service {
	s := &Service{
		users:    users,
		sessions: sessions,
		dbAuth:   dbAuth,
		mailer:   mailer,
		emitter:  emitter,
		cfg:      cfg,
		log:      log.With().Str("component", "user").Logger(),
		audit:    func(string, map[string]string) {},
		now:      time.Now,
	}
	if cfg.Local.PhoneRegexp != "" {
		// config.Validate fail-fasts on a bad pattern; a programmatic config
		// that skipped it just loses the format check.
		s.phoneRe, _ = regexp.Compile(cfg.Local.PhoneRegexp)
	}
	s.model = validate.Merge(s.baseUserModel(), cfg.UserModel)
	return s
}

func (s *Service) WithAudit(fn func(action string, fields map[string]string)) *Service {
	if fn != nil {
		s.audit = fn
	}
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// OnCreate registers a transformation applied to every new user document
// before it is persisted.
func (s *Service) OnCreate(fn TransformFn) error {
	if fn == nil {
		return errors.New("user: nil onCreate transformation")
	}
	s.onCreate = append(s.onCreate, fn)
	return nil
}

// OnLink registers a transformation applied whenever a federated provider is
// attached to an existing account.
func (s *Service) OnLink(fn TransformFn) error {
	if fn == nil {
		return errors.New("user: nil onLink transformation")
	}
	s.onLink = append(s.onLink, fn)
	return nil
}

func (s *Service) runTransforms(ctx context.Context, fns []TransformFn, doc *domain.UserDoc, provider string) (*domain.UserDoc, error) {
	for _, fn := range fns {
		next, err := fn(ctx, doc, provider)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, domain.ErrInternal(errors.New("transformation returned no document"))
		}
		doc = next
	}
	return doc, nil
}

// Quit releases the session store backend.
func (s *Service) Quit() error {
	return s.sessions.Quit()
}

// baseUserModel builds the registration model the configured overlay is
// merged onto. With emailUsername the email doubles as the account id and the
// username field disappears entirely; otherwise username is renamed to _id
// after validation.
func (s *Service) baseUserModel() *validate.Model {
	m := &validate.Model{
		Whitelist: []string{"username", "email", "password", "confirmPassword"},
		Sanitize: map[string][]string{
			"username": {"trim", "toLowerCase"},
			"email":    {"trim", "toLowerCase"},
		},
		Rules: map[string][]validate.Rule{
			"username":        {validate.Presence{}, validate.Custom{Name: "validateUsername"}},
			"email":           {validate.Presence{}, validate.Email{}, validate.Custom{Name: "validateEmail"}},
			"password":        {validate.Presence{}, validate.Matches{Field: "confirmPassword"}},
			"confirmPassword": {validate.Presence{}},
		},
		Rename: map[string]string{"username": "_id"},
		Static: map[string]any{
			"type":      "user",
			"roles":     slices.Clone(s.cfg.Security.DefaultRoles),
			"providers": []string{domain.ProviderLocal},
		},
		CustomValidators: map[string]validate.CustomFn{
			"validateEmail":         s.validateEmailField,
			"validateUsername":      s.validateUsernameField,
			"validatePhone":         s.validatePhoneField,
			"validateEmailUsername": s.validateEmailUsernameField,
		},
	}
	if s.cfg.Local.EmailUsername {
		m.Whitelist = slices.DeleteFunc(m.Whitelist, func(f string) bool { return f == "username" })
		delete(m.Rules, "username")
		delete(m.Sanitize, "username")
		m.Rename = map[string]string{}
		m.Rules["email"] = []validate.Rule{validate.Presence{}, validate.Email{}, validate.Custom{Name: "validateEmailUsername"}}
	}
	if slices.Contains(s.cfg.Local.UsernameKeys, "phone") {
		m.Whitelist = append(m.Whitelist, "phone")
		m.Sanitize["phone"] = []string{"trim"}
		m.Rules["phone"] = []validate.Rule{validate.Phone{Regexp: s.phoneRe}, validate.Custom{Name: "validatePhone"}}
	}
	return m
}

func (s *Service) validateUsernameField(ctx context.Context, value any, _ map[string]any) (string, error) {
	username, _ := value.(string)
	if username == "" {
		return "", nil
	}
	// A leading underscore would collide with the store's reserved id space.
	if strings.HasPrefix(username, "_") {
		return "cannot start with an underscore", nil
	}
	rows, err := s.users.QueryView(ctx, "username", username, false)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return "already in use", nil
	}
	return "", nil
}

func (s *Service) validateEmailField(ctx context.Context, value any, _ map[string]any) (string, error) {
	email, _ := value.(string)
	if email == "" {
		return "", nil
	}
	rows, err := s.users.QueryView(ctx, "email", email, false)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return "already in use", nil
	}
	return "", nil
}

func (s *Service) validateEmailUsernameField(ctx context.Context, value any, _ map[string]any) (string, error) {
	email, _ := value.(string)
	if email == "" {
		return "", nil
	}
	rows, err := s.users.QueryView(ctx, "emailUsername", email, false)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return "already in use", nil
	}
	return "", nil
}

func (s *Service) validatePhoneField(ctx context.Context, value any, _ map[string]any) (string, error) {
	phone, _ := value.(string)
	if phone == "" {
		return "", nil
	}
	rows, err := s.users.QueryView(ctx, "phone", phone, false)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		return "already in use", nil
	}
	return "", nil
}

// LoginType classifies a login value against the enabled username keys. The
// result names the auth view to query.
func (s *Service) LoginType(login string) string {
	for _, k := range s.cfg.Local.UsernameKeys {
		switch k {
		case "email":
			if validate.IsEmail(login) {
				return "email"
			}
		case "phone":
			if s.phoneRe != nil && s.phoneRe.MatchString(login) {
				return "phone"
			}
		}
	}
	return "username"
}

// Get resolves a login value to its user document.
func (s *Service) Get(ctx context.Context, login string) (*domain.UserDoc, error) {
	view := s.LoginType(login)
	if s.cfg.Local.EmailUsername && view != "phone" {
		view = "emailUsername"
	}
	return s.findByView(ctx, view, login)
}

func (s *Service) findByView(ctx context.Context, view, key string) (*domain.UserDoc, error) {
	rows, err := s.users.QueryView(ctx, view, key, true)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].Doc == nil {
		return nil, domain.ErrUserNotFound()
	}
	return rows[0].Doc, nil
}

// generateSession mints the token record for a new session. Cloudant
// deployments delegate key generation to the backing service; everywhere else
// the pair is generated locally.
func (s *Service) generateSession(ctx context.Context, userID string, roles []string) (*domain.SessionToken, error) {
	nowMS := s.now().UnixMilli()
	tok := &domain.SessionToken{
		ID:      userID,
		Issued:  nowMS,
		Expires: nowMS + int64(s.cfg.Security.SessionLife)*1000,
		Roles:   slices.Clone(roles),
	}
	if gen, ok := s.dbAuth.KeyGenerator(); ok {
		key, password, err := gen.GenerateAPIKey(ctx)
		if err != nil {
			return nil, err
		}
		tok.Key, tok.Password = key, password
		return tok, nil
	}
	key, err := util.SessionID()
	if err != nil {
		return nil, err
	}
	password, err := util.URLSafeUUID()
	if err != nil {
		return nil, err
	}
	tok.Key, tok.Password = key, password
	return tok, nil
}

// addActivity prepends an audit entry and trims the log to the configured
// size. Persisting is the caller's job.
func (s *Service) addActivity(doc *domain.UserDoc, action, provider, ip string) {
	entry := domain.ActivityEntry{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Action:    action,
		Provider:  provider,
		IP:        ip,
	}
	doc.Activity = append([]domain.ActivityEntry{entry}, doc.Activity...)
	if max := s.cfg.Security.UserActivityLogSize; max > 0 && len(doc.Activity) > max {
		doc.Activity = doc.Activity[:max]
	}
}

// emit broadcasts a lifecycle event. Subscriber failures are logged, never
// returned; events must not change an operation's outcome.
func (s *Service) emit(ctx context.Context, ev domain.Event) {
	ev.At = s.now().UTC()
	if err := s.emitter.Emit(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", ev.Name).Msg("event emit failed")
	}
}

// sendMail delivers a template without failing the operation that triggered
// it; the account state is already persisted by the time mail goes out.
func (s *Service) sendMail(ctx context.Context, template, to string, data map[string]any) {
	if to == "" {
		return
	}
	if err := s.mailer.Send(ctx, template, to, data); err != nil {
		s.log.Warn().Err(err).Str("template", template).Msg("mail send failed")
	}
}

// withConflictRetry re-runs fn after a revision conflict. fn must re-read the
// document itself; state captured outside goes stale after the first loss.
func withConflictRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !domain.Is(err, "doc_conflict") {
			return err
		}
	}
	return err
}
