// Package bootstrap turns a config.Config into a running application:
// signing keys, stores, engine, janitor and HTTP server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"

	sauth "github.com/pilab-dev/shadow-auth"
	sauthecho "github.com/pilab-dev/shadow-auth/api/echo"
	"github.com/pilab-dev/shadow-auth/config"
	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/pilab-dev/shadow-auth/internal/audit"
	"github.com/pilab-dev/shadow-auth/internal/auth"
	"github.com/pilab-dev/shadow-auth/internal/crypto"
	"github.com/pilab-dev/shadow-auth/internal/janitor"
	"github.com/pilab-dev/shadow-auth/internal/metrics"
	"github.com/pilab-dev/shadow-auth/internal/server"
	"github.com/pilab-dev/shadow-auth/log"
	"github.com/pilab-dev/shadow-auth/storage/bolt"
	"github.com/pilab-dev/shadow-auth/storage/memory"
	"github.com/pilab-dev/shadow-auth/storage/mongodb"
	"github.com/pilab-dev/shadow-auth/storage/postgres"
	"github.com/pilab-dev/shadow-auth/storage/redis"
	"github.com/pilab-dev/shadow-auth/storage/seed"
	"github.com/pilab-dev/shadow-auth/tracing"
)

type closer func(ctx context.Context) error

// App is a fully wired server.
type App struct {
	Engine  *sauth.AuthServer
	Handler http.Handler
	HTTP    *server.HTTPServer
	Janitor *janitor.Janitor

	cfg     *config.Config
	logger  log.Logger
	closers []closer
}

type grantStores struct {
	codes   domain.AuthCodeRepository
	refresh domain.RefreshTokenRepository
}

type registries struct {
	clients domain.ClientRegistry
	users   domain.UserStore
}

// Build wires everything cfg asks for. On failure, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, err error) {
	if logger == nil {
		logger = log.NewNop()
	}

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracerProvider(ctx, cfg.Tracing.ServiceName, nil)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.closers = append(app.closers, tp.Shutdown)
	}

	var (
		reg       *prometheus.Registry
		collector *metrics.Collector
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewCollector(reg)
	}

	keys, err := loadKeys(ctx, cfg.Keys)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Signing key loaded", log.Fields{"kid": keys.KeyID, "source": string(cfg.Keys.Source)})

	hasher := auth.NewBcryptHasher(0)

	var mongoDB *mongo.Database
	if cfg.Storage.Backend == config.StorageMongoDB || cfg.Registry.Backend == config.RegistryMongoDB {
		client, db, err := mongodb.Connect(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, client.Disconnect)
		mongoDB = db
	}

	stores, err := app.openStores(ctx, mongoDB)
	if err != nil {
		return nil, err
	}

	regs, err := app.openRegistries(ctx, hasher, mongoDB)
	if err != nil {
		return nil, err
	}

	engine, err := sauth.NewAuthServer(sauth.Dependencies{
		Clients:       regs.clients,
		Users:         regs.users,
		Hasher:        hasher,
		AuthCodes:     stores.codes,
		RefreshTokens: stores.refresh,
		KeyPair:       keys,
		Logger:        logger,
		Metrics:       collector,
		Audit:         audit.New(os.Stdout),
		Options: sauth.Options{
			Issuer:          cfg.Issuer,
			AccessTokenTTL:  cfg.AccessTokenTTL,
			RefreshTokenTTL: cfg.RefreshTokenTTL,
			AuthCodeTTL:     cfg.AuthCodeTTL,
		},
	})
	if err != nil {
		return nil, err
	}
	app.Engine = engine

	app.Janitor, err = janitor.New(stores.codes, stores.refresh, logger.With(log.Fields{"component": "janitor"}), collector, nil)
	if err != nil {
		return nil, err
	}

	opts := sauthecho.ServerOptions{}
	if cfg.Tracing.Enabled {
		opts.ServiceName = cfg.Tracing.ServiceName
	}
	if reg != nil {
		opts.Gatherer = reg
	}

	app.Handler = sauthecho.NewServer(sauthecho.NewOAuth2API(engine, logger), logger, opts)
	app.HTTP = server.NewHTTPServer(cfg.HTTPAddr, app.Handler, logger)

	return app, nil
}

func loadKeys(ctx context.Context, cfg config.KeysConfig) (*crypto.KeyPair, error) {
	switch cfg.Source {
	case config.KeySourceFile:
		return crypto.LoadFromFile(cfg.PrivateKeyPath)
	case config.KeySourceAWS:
		client, err := crypto.NewSecretsManagerClient(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}

		return crypto.LoadFromSecretsManager(ctx, client, cfg.AWSSecretID)
	default:
		return crypto.GenerateKeyPair()
	}
}

func (a *App) openStores(ctx context.Context, mongoDB *mongo.Database) (*grantStores, error) {
	sc := a.cfg.Storage

	switch sc.Backend {
	case config.StorageRedis:
		client, err := redis.Connect(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })

		store := redis.NewStore(client, sc.Redis.Prefix)

		return &grantStores{codes: store, refresh: store}, nil

	case config.StorageMongoDB:
		if err := mongodb.EnsureIndexes(ctx, mongoDB); err != nil {
			return nil, err
		}

		return &grantStores{
			codes:   mongodb.NewAuthCodeRepository(mongoDB),
			refresh: mongodb.NewRefreshTokenRepository(mongoDB),
		}, nil

	case config.StoragePostgres:
		pool, err := postgres.Connect(ctx, sc.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })

		store := postgres.NewStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}

		return &grantStores{codes: store, refresh: store}, nil

	case config.StorageBolt:
		store, err := bolt.Open(sc.Bolt.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })

		return &grantStores{codes: store, refresh: store}, nil

	default:
		codes := memory.NewAuthCodeStore()
		refresh := memory.NewRefreshTokenStore()
		a.closers = append(a.closers,
			func(context.Context) error { return codes.Close() },
			func(context.Context) error { return refresh.Close() },
		)

		return &grantStores{codes: codes, refresh: refresh}, nil
	}
}

func (a *App) openRegistries(ctx context.Context, hasher *auth.BcryptHasher, mongoDB *mongo.Database) (*registries, error) {
	rc := a.cfg.Registry

	var (
		data *seed.Data
		err  error
	)
	if rc.SeedFile != "" {
		data, err = seed.LoadFile(rc.SeedFile, hasher)
	} else if rc.Backend == config.RegistrySeed {
		data, err = seed.Default(hasher)
	}
	if err != nil {
		return nil, err
	}

	if rc.Backend == config.RegistryMongoDB {
		clients := mongodb.NewClientRegistry(mongoDB)
		users := mongodb.NewUserStore(mongoDB, hasher)
		if data != nil {
			if err := data.Apply(ctx, clients, users); err != nil {
				return nil, fmt.Errorf("apply seed data: %w", err)
			}
		}

		return &registries{clients: clients, users: users}, nil
	}

	a.logger.Info(ctx, "Using seeded registry", log.Fields{"clients": len(data.Clients), "users": len(data.Users)})

	return &registries{
		clients: memory.NewClientRegistry(data.Clients...),
		users:   memory.NewUserStore(hasher, data.Users...),
	}, nil
}

// Run starts the janitor and serves HTTP until ctx is cancelled, then shuts
// the server down within the shutdown context's deadline.
func (a *App) Run(ctx context.Context, shutdown func() (context.Context, context.CancelFunc)) error {
	if err := a.Janitor.Start(a.cfg.GCInterval); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.HTTP.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := shutdown()
	defer cancel()

	return errors.Join(a.HTTP.Shutdown(sctx), <-errCh)
}

// Close stops the janitor and releases stores and exporters in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error

	if a.Janitor != nil {
		errs = append(errs, a.Janitor.Shutdown())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil

	return errors.Join(errs...)
}
