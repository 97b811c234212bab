package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/trentmillar/keystone-net/internal/adapter/cache"
	eventsadapter "github.com/trentmillar/keystone-net/internal/adapter/events"
	"github.com/trentmillar/keystone-net/internal/bootstrap"
	"github.com/trentmillar/keystone-net/internal/config"
	httptransport "github.com/trentmillar/keystone-net/internal/http"
	"github.com/trentmillar/keystone-net/internal/http/handler"
	httpmiddleware "github.com/trentmillar/keystone-net/internal/http/middleware"
	"github.com/trentmillar/keystone-net/internal/jwt"
	"github.com/trentmillar/keystone-net/internal/lifecycle"
	apimiddleware "github.com/trentmillar/keystone-net/internal/middleware"
	"github.com/trentmillar/keystone-net/internal/prune"
	"github.com/trentmillar/keystone-net/internal/repository"
	"github.com/trentmillar/keystone-net/internal/server"
	"github.com/trentmillar/keystone-net/internal/service"
	"github.com/trentmillar/keystone-net/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newRedisClient,
			newStores,
			newTokenRepository,
			newRateLimiter,
			newKeyManager,
			newTokenGenerator,
			newNotifiers,
			newDispatcher,
			newGuard,
			newPolicy,
			newMaterializer,
			newOrchestrator,
			newGrantService,
			newDiscoveryService,
			handler.NewOAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.Seed, startPruner, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// stores bundles the persistence layer so the Postgres/in-memory decision is
// made in one place.
type stores struct {
	Tokens         repository.TokenRepository
	Authorizations repository.AuthorizationRepository
	Users          repository.UserRepository
	Clients        repository.ClientRepository
	Keys           repository.KeyRepository
}

func newStores(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		tokens := repository.NewMemoryTokenRepo()
		return &stores{
			Tokens:         tokens,
			Authorizations: repository.NewMemoryAuthorizationRepo(tokens),
			Users:          repository.NewMemoryUserRepo(),
			Clients:        repository.NewMemoryClientRepo(),
			Keys:           repository.NewMemoryKeyRepo(),
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return &stores{
		Tokens:         repository.NewPostgresTokenRepo(pool),
		Authorizations: repository.NewPostgresAuthorizationRepo(pool),
		Users:          repository.NewPostgresUserRepo(pool),
		Clients:        repository.NewPostgresClientRepo(pool),
		Keys:           repository.NewPostgresKeyRepo(pool),
	}, nil
}

// newTokenRepository layers the Redis read-through cache over the token
// store when Redis is configured.
func newTokenRepository(st *stores, client redis.UniversalClient, cfg config.Config, logger *zap.Logger) repository.TokenRepository {
	if client == nil {
		return st.Tokens
	}
	return cacheadapter.NewTokenCache(st.Tokens, client, cfg.TokenCacheTTL, logger)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, token cache and event publishing disabled")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(st *stores) *jwt.KeyManager {
	return jwt.NewKeyManager(st.Keys)
}

func newTokenGenerator(manager *jwt.KeyManager, cfg config.Config) *jwt.Generator {
	return jwt.NewGenerator(manager, cfg.Issuer, cfg.AccessTokenTTL)
}

func newNotifiers(client redis.UniversalClient, cfg config.Config, logger *zap.Logger) []lifecycle.Notifier {
	var notifiers []lifecycle.Notifier
	if client != nil {
		notifiers = append(notifiers, eventsadapter.NewRedisNotifier(client, cfg.EventChannel))
	}
	notifiers = append(notifiers, eventsadapter.NewLogNotifier(logger))
	return notifiers
}

func newDispatcher(notifiers []lifecycle.Notifier, logger *zap.Logger) *lifecycle.Dispatcher {
	return lifecycle.NewDispatcher(notifiers, logger)
}

func newGuard(tokens repository.TokenRepository, logger *zap.Logger) *lifecycle.Guard {
	return lifecycle.NewGuard(tokens, logger)
}

func newPolicy(tokens repository.TokenRepository, logger *zap.Logger) *lifecycle.Policy {
	return lifecycle.NewPolicy(tokens, logger)
}

func newMaterializer(st *stores, node *snowflake.Node, logger *zap.Logger) *lifecycle.Materializer {
	return lifecycle.NewMaterializer(st.Authorizations, node, logger)
}

func newOrchestrator(guard *lifecycle.Guard, policy *lifecycle.Policy, materializer *lifecycle.Materializer, dispatcher *lifecycle.Dispatcher, tokens repository.TokenRepository, logger *zap.Logger) *lifecycle.Orchestrator {
	return lifecycle.NewOrchestrator(guard, policy, materializer, dispatcher, tokens, logger)
}

func newGrantService(st *stores, tokens repository.TokenRepository, node *snowflake.Node, generator *jwt.Generator, keys *jwt.KeyManager, engine *lifecycle.Orchestrator, cfg config.Config, logger *zap.Logger) *service.GrantService {
	return service.NewGrantService(st.Users, tokens, st.Authorizations, st.Clients, node, generator, keys, engine, cfg, logger)
}

func newDiscoveryService() *service.DiscoveryService {
	return &service.DiscoveryService{}
}

func newAuthMiddleware(grants *service.GrantService) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Grants: grants}
}

func startPruner(lc fx.Lifecycle, st *stores, tokens repository.TokenRepository, cfg config.Config, logger *zap.Logger) {
	if cfg.DisableTokenStorage || cfg.PruneInterval <= 0 {
		return
	}
	pruner := prune.New(tokens, st.Authorizations, cfg.PruneInterval, logger)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pruner.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return pruner.Stop(ctx)
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
