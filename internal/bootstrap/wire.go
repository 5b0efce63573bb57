package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/baechuer/sofauth/internal/application/strategy"
	"github.com/baechuer/sofauth/internal/application/user"
	"github.com/baechuer/sofauth/internal/audit"
	"github.com/baechuer/sofauth/internal/config"
	"github.com/baechuer/sofauth/internal/dbauth"
	"github.com/baechuer/sofauth/internal/domain"
	"github.com/baechuer/sofauth/internal/infrastructure/couchdb"
	pgsession "github.com/baechuer/sofauth/internal/infrastructure/db/postgres"
	"github.com/baechuer/sofauth/internal/infrastructure/email"
	filesession "github.com/baechuer/sofauth/internal/infrastructure/file"
	"github.com/baechuer/sofauth/internal/infrastructure/memory"
	"github.com/baechuer/sofauth/internal/infrastructure/messaging/rabbitmq"
	"github.com/baechuer/sofauth/internal/infrastructure/messaging/watermill"
	"github.com/baechuer/sofauth/internal/infrastructure/redis"
	"github.com/baechuer/sofauth/internal/logger"
	"github.com/baechuer/sofauth/internal/mailer"
	"github.com/baechuer/sofauth/internal/metrics"
	"github.com/baechuer/sofauth/internal/session"
	http_handlers "github.com/baechuer/sofauth/internal/transport/http/handlers"
	"github.com/baechuer/sofauth/internal/transport/http/middleware"
	"github.com/baechuer/sofauth/internal/transport/http/response"
	"github.com/baechuer/sofauth/internal/transport/http/router"
	"github.com/spf13/afero"
)

/*
========================
 Entry points
========================
*/

func NewServer() (*http.Server, func(), error) {
	return newServer(defaultDeps())
}

// NewServerWithDeps lets tests swap the redis, broker, and router
// constructors.
func NewServerWithDeps(deps Deps) (*http.Server, func(), error) {
	return newServer(deps)
}

/*
========================
 Injection seams
========================
*/

type Deps struct {
	LoadConfig func() (*config.Config, error)

	NewRedis func(addr, password string, db int) RedisClient

	NewForwarder func(url, exchange string) (EventForwarder, error)

	NewRouter func(router.Deps) (http.Handler, error)
}

type RedisClient interface {
	Ping(ctx context.Context) error
	Close() error
}

// EventForwarder bridges lifecycle events into an external broker.
type EventForwarder interface {
	Handle(ev domain.Event)
	Close() error
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

/*
========================
 Bootstrap sequence
========================
*/

func newServer(deps Deps) (*http.Server, func(), error) {
	// 0) config
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	// Each constructed backend pushes an undo onto cleanupFns; fail unwinds
	// whatever is already running.
	var cleanupFns []func()
	fail := func(err error) (*http.Server, func(), error) {
		runCleanup(cleanupFns)
		return nil, nil, err
	}

	readyProbes := map[string]http_handlers.Pinger{}

	// 1) session backend
	var (
		adapter  session.Adapter
		redisCli *redis.Client
	)
	switch cfg.Session.Adapter {
	case "", config.AdapterMemory:
		adapter = memory.NewSessionAdapter()

	case config.AdapterFile:
		fa, err := filesession.NewSessionAdapter(afero.NewOsFs(), cfg.Session.File.SessionsRoot)
		if err != nil {
			return fail(err)
		}
		adapter = fa

	case config.AdapterRedis:
		cli := deps.NewRedis(cfg.Session.Redis.Addr, cfg.Session.Redis.Password, cfg.Session.Redis.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := cli.Ping(ctx)
		cancel()
		rc, isClient := cli.(*redis.Client)
		switch {
		case err != nil:
			logger.Logger.Warn().Err(err).Msg("redis unavailable; falling back to memory sessions")
			_ = cli.Close()
			adapter = memory.NewSessionAdapter()
		case !isClient:
			logger.Logger.Warn().Msg("redis client without adapter support; falling back to memory sessions")
			_ = cli.Close()
			adapter = memory.NewSessionAdapter()
		default:
			logger.Logger.Info().Msg("redis connected")
			redisCli = rc
			adapter = redis.NewSessionAdapter(rc)
			readyProbes["redis"] = rc
		}

	case config.AdapterPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := pgsession.Open(ctx, cfg.Session.Postgres.DSN)
		if err != nil {
			cancel()
			return fail(err)
		}
		pa := pgsession.NewSessionAdapter(db)
		if err := pa.EnsureSchema(ctx); err != nil {
			cancel()
			_ = db.Close()
			return fail(err)
		}
		cancel()
		adapter = pa
		readyProbes["postgres"] = pingerFunc(db.PingContext)

	default:
		return fail(fmt.Errorf("bootstrap: unknown session adapter %q", cfg.Session.Adapter))
	}

	store := session.NewStore(adapter)
	cleanupFns = append(cleanupFns, func() { _ = store.Quit() })

	// 2) document store + db auth backends
	var (
		users    user.UserStore
		provider dbauth.Provider
		authSt   dbauth.AuthStore
	)
	if cfg.DBServer.Host == "" {
		logger.Logger.Warn().Msg("no couchdb host configured; using in-memory stores")
		users = memory.NewUserStore()
		provider = memory.NewProvider()
		authSt = memory.NewAuthStore()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := couchdb.Connect(ctx, &cfg.DBServer)
		cancel()
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, func() { _ = client.Close() })

		users = couchdb.NewUserStore(client, cfg.DBServer.UserDB, cfg.DBServer.TypeField)
		p := couchdb.NewProvider(client)
		if cfg.DBServer.Cloudant {
			provider = couchdb.NewCloudantProvider(p, &cfg.DBServer)
		} else {
			provider = p
		}
		authSt = couchdb.NewAuthStore(client, cfg.DBServer.CouchAuthDB)
		readyProbes["couchdb"] = pingerFunc(func(ctx context.Context) error {
			_, err := client.Ping(ctx)
			return err
		})
	}

	// 3) auth views (one per enabled provider)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := users.EnsureViews(ctx, cfg.Providers)
		cancel()
		if err != nil {
			return fail(err)
		}
	}

	// 4) db auth manager
	manager := dbauth.New(provider, authSt, cfg, afero.NewOsFs(), logger.Logger)

	// 5) mailer
	var sender mailer.Sender
	if cfg.SMTP.Host != "" {
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.Mailer.FromEmail,
			Timeout:  10 * time.Second,
		}, logger.Logger)
	} else {
		logger.Logger.Warn().Msg("smtp not configured; outbound email goes to the log")
		sender = email.NewLogSender(logger.Logger)
	}
	mail, err := mailer.New(sender, cfg, logger.Logger)
	if err != nil {
		return fail(err)
	}

	// 6) event fabric
	emitter := watermill.NewEmitter(logger.Logger)
	cleanupFns = append(cleanupFns, func() { _ = emitter.Close() })

	subCtx, subCancel := context.WithCancel(context.Background())
	cleanupFns = append(cleanupFns, subCancel)

	auditLog := audit.New(logger.Logger)
	if err := emitter.Subscribe(subCtx, "audit", auditLog.HandleEvent); err != nil {
		return fail(err)
	}
	if err := emitter.Subscribe(subCtx, "metrics", metrics.HandleEvent); err != nil {
		return fail(err)
	}

	if cfg.Rabbit.URL != "" {
		fw, err := deps.NewForwarder(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
		if err != nil {
			// Broker forwarding is an optional egress; the core works without it.
			logger.Logger.Warn().Err(err).Msg("rabbitmq unavailable; event forwarding disabled")
		} else {
			cleanupFns = append(cleanupFns, func() { _ = fw.Close() })
			if err := emitter.Subscribe(subCtx, "rabbitmq", fw.Handle); err != nil {
				return fail(err)
			}
			logger.Logger.Info().Str("exchange", cfg.Rabbit.Exchange).Msg("rabbitmq forwarding enabled")
		}
	}

	// 7) user service
	svc := user.New(users, store, manager, mail, emitter, cfg, logger.Logger).
		WithAudit(auditLog.Action)

	// 8) strategies, handlers, middleware
	localStrat := strategy.NewLocal(svc, cfg)
	bearerStrat := strategy.NewBearer(svc)

	authH := http_handlers.NewAuthHandler(svc, localStrat, cfg)
	healthH := http_handlers.NewHealthHandler(readyProbes)

	authMW := middleware.Auth(bearerStrat, response.WriteError)

	// 9) rate limits (fail-open)
	var fwLimiter *redis.FixedWindowLimiter
	if redisCli != nil {
		fwLimiter = redis.NewFixedWindowLimiter(redisCli)
	}
	limit := limitBuilder(fwLimiter)

	// 10) router
	var corsMW func(http.Handler) http.Handler
	if cfg.CORS.Enabled {
		corsMW = middleware.CORS(cfg.CORS.AllowedOrigins)
	}
	var headersMW func(http.Handler) http.Handler
	if cfg.Security.BrowserHeaders {
		headersMW = middleware.SecurityHeaders(cfg.Env == "prod")
	}

	mux, err := deps.NewRouter(router.Deps{
		Health:  healthH,
		Auth:    authH,
		Metrics: metrics.Handler(),
		AuthMW:  authMW,
		Limits: router.RateLimits{
			Register: limit("register", 3, time.Minute),
			Login:    limit("login", 5, time.Minute),
			Forgot:   limit("forgot_password", 3, 10*time.Minute),
		},
		CORS:      corsMW,
		Headers:   headersMW,
		BodyLimit: middleware.BodyLimit(cfg.HTTPMaxBodyBytes, response.WriteError),
	})
	if err != nil {
		return fail(err)
	}

	// 11) expired-credential janitor
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	cleanupFns = append(cleanupFns, janitorCancel)
	go runJanitor(janitorCtx, cfg.JanitorInterval, manager, adapter)

	// 12) server
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	return srv, func() { runCleanup(cleanupFns) }, nil
}

/*
========================
 Janitor
========================
*/

// sweeper is implemented by session adapters without native TTLs (file,
// postgres).
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// runJanitor periodically removes expired session keys from the DB auth
// store and sweeps adapters that cannot expire entries on their own.
func runJanitor(ctx context.Context, interval time.Duration, manager *dbauth.Manager, adapter session.Adapter) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sw, hasSweep := adapter.(sweeper)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := manager.RemoveExpiredKeys(ctx)
			if err != nil {
				logger.Logger.Warn().Err(err).Msg("janitor: expired key removal failed")
			} else if removed > 0 {
				logger.Logger.Info().Int("removed", removed).Msg("janitor: expired keys removed")
			}

			if hasSweep {
				swept, err := sw.Sweep(ctx)
				if err != nil {
					logger.Logger.Warn().Err(err).Msg("janitor: session sweep failed")
				} else if swept > 0 {
					logger.Logger.Info().Int("swept", swept).Msg("janitor: expired sessions swept")
				}
			}
		}
	}
}

/*
========================
 Production constructors
========================
*/

func defaultDeps() Deps {
	return Deps{
		LoadConfig: config.Load,
		NewRedis: func(addr, password string, db int) RedisClient {
			return redis.New(addr, password, db)
		},
		NewForwarder: func(url, exchange string) (EventForwarder, error) {
			return rabbitmq.NewForwarder(url, exchange, logger.Logger)
		},
		NewRouter: func(d router.Deps) (http.Handler, error) {
			return router.New(d)
		},
	}
}

/*
========================
 helpers
========================
*/

// limitBuilder returns a per-route throttle constructor. Without redis every
// constructed limit is nil and the router leaves that route open.
func limitBuilder(l *redis.FixedWindowLimiter) func(string, int, time.Duration) func(http.Handler) http.Handler {
	return func(key string, limit int, window time.Duration) func(http.Handler) http.Handler {
		if l == nil {
			return nil
		}
		cfg := middleware.FixedWindowConfig{RouteKey: key, Limit: limit, Window: window}
		return middleware.RateLimitFixedWindow(l, cfg, response.WriteError)
	}
}

func runCleanup(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
