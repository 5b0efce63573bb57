package config

import (
	"fmt"
	"log"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/baechuer/sofauth/internal/validate"
)

// Session adapter names accepted by SESSION_ADAPTER.
const (
	AdapterMemory   = "memory"
	AdapterFile     = "file"
	AdapterRedis    = "redis"
	AdapterPostgres = "postgres"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"dev"` // dev / staging / prod
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"1m"`

	// Request bodies above this are rejected with 413.
	HTTPMaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`

	// Federated provider names; each gets its own lookup view on the user
	// database. The OAuth handshake itself lives outside this service.
	Providers []string `env:"PROVIDERS" envSeparator:","`

	// How often expired session keys and KV records are swept.
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"10m"`

	Security Security `envPrefix:"SECURITY_"`
	Local    Local    `envPrefix:"LOCAL_"`
	DBServer DBServer `envPrefix:"DB_"`
	Session  Session  `envPrefix:"SESSION_"`
	UserDBs  UserDBs  `envPrefix:"USER_DBS_"`
	Mailer   Mailer   `envPrefix:"MAILER_"`
	SMTP     SMTP     `envPrefix:"SMTP_"`
	Rabbit   Rabbit   `envPrefix:"RABBIT_"`
	CORS     CORS     `envPrefix:"CORS_"`
	TestMode TestMode `envPrefix:"TEST_MODE_"`

	// Programmatic extension points for the embedding application. Not
	// env-parseable; set them after Load and before wiring.
	Emails    map[string]EmailTemplate `env:"-"`
	UserModel *validate.Model          `env:"-"`
}

type Security struct {
	DefaultRoles           []string `env:"DEFAULT_ROLES" envSeparator:"," envDefault:"user"`
	UserActivityLogSize    int      `env:"USER_ACTIVITY_LOG_SIZE" envDefault:"10"`
	InviteOnlyRegistration bool     `env:"INVITE_ONLY_REGISTRATION"`
	LoginOnRegistration    bool     `env:"LOGIN_ON_REGISTRATION"`
	MaxFailedLogins        int      `env:"MAX_FAILED_LOGINS"`
	LockoutTime            int      `env:"LOCKOUT_TIME"` // seconds
	SoftLock               bool     `env:"SOFT_LOCK"`
	TokenLife              int      `env:"TOKEN_LIFE" envDefault:"86400"`   // seconds
	SessionLife            int      `env:"SESSION_LIFE" envDefault:"86400"` // seconds
	BrowserHeaders         bool     `env:"BROWSER_HEADERS" envDefault:"true"`
}

// CORS controls cross-origin access for browser clients. Origins may be
// exact, "*", or wildcard subdomains ("*.example.com").
type CORS struct {
	Enabled        bool     `env:"ENABLED" envDefault:"true"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type Local struct {
	EmailUsername       bool     `env:"EMAIL_USERNAME"`
	UsernameKeys        []string `env:"USERNAME_KEYS" envSeparator:"," envDefault:"username"`
	UsernameField       string   `env:"USERNAME_FIELD" envDefault:"username"`
	PasswordField       string   `env:"PASSWORD_FIELD" envDefault:"password"`
	SendConfirmEmail    bool     `env:"SEND_CONFIRM_EMAIL"`
	RequireEmailConfirm bool     `env:"REQUIRE_EMAIL_CONFIRM"`
	UUIDAsID            bool     `env:"UUID_AS_ID"`
	PhoneRegexp         string   `env:"PHONE_REGEXP" envDefault:"^\\+?[0-9]{7,15}$"`
}

// DBServer points at the CouchDB/Cloudant cluster. Protocol keeps the "://"
// suffix so stored configs stay compatible.
type DBServer struct {
	Protocol    string `env:"PROTOCOL" envDefault:"http://"`
	Host        string `env:"HOST"`
	User        string `env:"USER"`
	Password    string `env:"PASSWORD"`
	PublicURL   string `env:"PUBLIC_URL"`
	TypeField   string `env:"TYPE_FIELD" envDefault:"type"`
	Cloudant    bool   `env:"CLOUDANT"`
	UserDB      string `env:"USER_DB" envDefault:"sofauth_users"`
	CouchAuthDB string `env:"COUCH_AUTH_DB" envDefault:"_users"`
}

type Session struct {
	Adapter  string          `env:"ADAPTER" envDefault:"memory"`
	File     FileSession     `envPrefix:"FILE_"`
	Redis    RedisSession    `envPrefix:"REDIS_"`
	Postgres PostgresSession `envPrefix:"POSTGRES_"`

	ProfileMapping ProfileMapping `env:"-"`
}

type FileSession struct {
	SessionsRoot string `env:"SESSIONS_ROOT" envDefault:"./.sessions"`
}

type RedisSession struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
}

type PostgresSession struct {
	DSN string `env:"DSN"`
}

// ProfileMapping synthesizes session profile fields from provider profiles.
// Sources are consulted in declaration order; the first provider carrying the
// field wins.
type ProfileMapping map[string][]ProfileSource

type ProfileSource struct {
	Provider string
	Field    string
}

type UserDBs struct {
	DefaultSecurityRoles SecurityRoles      `envPrefix:"DEFAULT_SECURITY_"`
	DefaultDBs           DefaultDBs         `envPrefix:"DEFAULT_"`
	PrivatePrefix        string             `env:"PRIVATE_PREFIX" envDefault:"userdb"`
	DesignDocDir         string             `env:"DESIGN_DOC_DIR"`
	Model                map[string]DBModel `env:"-"`
}

type SecurityRoles struct {
	Admins  []string `env:"ADMIN_ROLES" envSeparator:","`
	Members []string `env:"MEMBER_ROLES" envSeparator:","`
}

type DefaultDBs struct {
	Private []string `env:"PRIVATE" envSeparator:","`
	Shared  []string `env:"SHARED" envSeparator:","`
}

// DBModel describes one logical user database. The "_default" entry is the
// base every other entry is merged onto.
type DBModel struct {
	Type        string
	Permissions []string
	AdminRoles  []string
	MemberRoles []string
	DesignDocs  []string
}

type Mailer struct {
	FromEmail string `env:"FROM_EMAIL"`
	// Base URLs sent in emails. The service appends the token, so a
	// configured value must contain `token=`.
	ConfirmEmailURL  string `env:"CONFIRM_EMAIL_URL"`
	PasswordResetURL string `env:"PASSWORD_RESET_URL"`
}

type SMTP struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

type Rabbit struct {
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE" envDefault:"sofauth.events"`
}

type TestMode struct {
	NoEmail bool `env:"NO_EMAIL"`
}

type EmailTemplate struct {
	Subject  string
	Template string
	Format   string // "text" or "html"
}

var validUsernameKeys = []string{"username", "email", "phone"}

// Load parses the process environment (plus an optional .env file) and
// fail-fast validates everything the service cannot run without.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional, so we just log a warning
		log.Println("config: no .env file, using process environment")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Exported so embedders that build
// the Config programmatically get the same fail-fast behavior.
func (c *Config) Validate() error {
	if len(c.Local.UsernameKeys) == 0 {
		return fmt.Errorf("LOCAL_USERNAME_KEYS must name at least one of username,email,phone")
	}
	for _, k := range c.Local.UsernameKeys {
		if !slices.Contains(validUsernameKeys, k) {
			return fmt.Errorf("LOCAL_USERNAME_KEYS: unknown key %q", k)
		}
	}
	if c.Local.PhoneRegexp != "" {
		if _, err := regexp.Compile(c.Local.PhoneRegexp); err != nil {
			return fmt.Errorf("LOCAL_PHONE_REGEXP: %w", err)
		}
	}

	switch c.Session.Adapter {
	case AdapterMemory:
	case AdapterFile:
		if c.Session.File.SessionsRoot == "" {
			return fmt.Errorf("missing required env var: SESSION_FILE_SESSIONS_ROOT")
		}
	case AdapterRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("missing required env var: SESSION_REDIS_ADDR")
		}
	case AdapterPostgres:
		if c.Session.Postgres.DSN == "" {
			return fmt.Errorf("missing required env var: SESSION_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("SESSION_ADAPTER: unknown adapter %q", c.Session.Adapter)
	}

	if !strings.HasSuffix(c.DBServer.Protocol, "://") {
		return fmt.Errorf("DB_PROTOCOL must end with \"://\", got %q", c.DBServer.Protocol)
	}
	if c.Security.SessionLife <= 0 || c.Security.TokenLife <= 0 {
		return fmt.Errorf("SECURITY_SESSION_LIFE and SECURITY_TOKEN_LIFE must be positive")
	}

	// Must include `token=` because the mailer appends the token.
	if c.Mailer.ConfirmEmailURL != "" && !strings.Contains(c.Mailer.ConfirmEmailURL, "token=") {
		return fmt.Errorf("MAILER_CONFIRM_EMAIL_URL must contain `token=`")
	}
	if c.Mailer.PasswordResetURL != "" && !strings.Contains(c.Mailer.PasswordResetURL, "token=") {
		return fmt.Errorf("MAILER_PASSWORD_RESET_URL must contain `token=`")
	}

	for name, m := range c.UserDBs.Model {
		if name == "_default" {
			continue
		}
		if m.Type != "" && m.Type != "private" && m.Type != "shared" {
			return fmt.Errorf("USER_DBS model %q: unknown type %q", name, m.Type)
		}
	}
	return nil
}
