// Package app wires the gateway's dependency graph: config, logging,
// storage, registry, router, proxy, rate limiter, auth, and the HTTP
// surface itself. Everything is constructed once at startup and torn
// down in reverse order at shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/r3e-network/mcp-gateway/internal/auth"
	"github.com/r3e-network/mcp-gateway/internal/breaker"
	"github.com/r3e-network/mcp-gateway/internal/config"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/dao/postgres"
	"github.com/r3e-network/mcp-gateway/internal/dao/rediskv"
	"github.com/r3e-network/mcp-gateway/internal/httpapi"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/middleware"
	"github.com/r3e-network/mcp-gateway/internal/proxy"
	"github.com/r3e-network/mcp-gateway/internal/ratelimit"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/router"
	"github.com/r3e-network/mcp-gateway/internal/routermetrics"
	"github.com/r3e-network/mcp-gateway/internal/tracing"
)

// App bundles every long-lived gateway dependency.
type App struct {
	Config *config.Config
	Log    *logging.Logger
	Server *httpapi.Server

	db          *sqlx.DB
	redis       *redis.Client
	reg         *registry.Registry
	sched       *scheduler
	tracerClose func(context.Context) error
}

// New constructs the full dependency graph from cfg. The caller owns
// calling Close during shutdown.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logging.New("mcp-gateway", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.New()

	tracer, tracerClose, err := buildTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure tracer: %w", err)
	}

	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	relStore := postgres.New(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		PoolSize: cfg.Cache.PoolSize,
	})
	kvStore := rediskv.New(redisClient)

	store := dao.Store{Relational: relStore, KV: kvStore}

	reg := registry.New(relStore, log, m, registry.ProbeConfig{
		Interval: cfg.Registry.ProbeInterval,
		Timeout:  cfg.Registry.ProbeTimeout,
	})
	if err := reg.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore registry: %w", err)
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
	})

	tracker := routermetrics.New(routermetrics.ScoreWeights{
		Health:   cfg.Router.WeightHealth,
		Latency:  cfg.Router.WeightLatency,
		Capacity: cfg.Router.WeightCapacity,
	})

	rtr := router.New(reg, breakers, tracker, routerPolicy(cfg.Router.Policy))

	prx := proxy.New(rtr, store.Relational, log, m)

	limiter := ratelimit.New(ratelimit.Config{
		Enabled:              cfg.RateLimit.Enabled,
		GlobalRPM:            cfg.RateLimit.GlobalRPM,
		BurstFactor:          cfg.RateLimit.BurstFactor,
		EnablePerTenant:      cfg.RateLimit.EnablePerTenant,
		TenantBaseRPM:        cfg.RateLimit.TenantBaseRPM,
		TenantMultiplier:     cfg.RateLimit.TenantMultiplier,
		FairnessWindow:       cfg.RateLimit.FairnessWindow,
		BurstAllowanceFactor: cfg.RateLimit.BurstAllowanceFactor,
	}, store.KV, m)

	apiKeyAuthn := auth.NewAPIKeyAuthenticator(store.Relational, store.KV)

	oauthAuthn, err := buildOAuthAuthenticator(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("oauth disabled: jwks unavailable")
	}

	authenticator := auth.NewAuthenticator(apiKeyAuthn, oauthAuthn)
	policy := auth.DefaultPolicy()

	chain := middleware.NewChain(authenticator, limiter, policy, store.Relational, tracer, m, log)

	httpSrv := httpapi.New(reg, rtr, tracker, prx, store.Relational, chain, policy, authenticator, log, m)

	sched, err := newScheduler(log, rtr, limiter, cfg.RateLimit.CleanupInterval)
	if err != nil {
		return nil, fmt.Errorf("configure scheduler: %w", err)
	}
	sched.Start()

	return &App{
		Config:      cfg,
		Log:         log,
		Server:      httpSrv,
		db:          db,
		redis:       redisClient,
		reg:         reg,
		sched:       sched,
		tracerClose: tracerClose,
	}, nil
}

// Close releases every resource acquired by New, in reverse order.
func (a *App) Close(ctx context.Context) {
	a.sched.Stop()
	a.reg.Shutdown()
	if err := a.redis.Close(); err != nil {
		a.Log.WithError(err).Warn("close redis")
	}
	if err := a.db.Close(); err != nil {
		a.Log.WithError(err).Warn("close database")
	}
	if a.tracerClose != nil {
		if err := a.tracerClose(ctx); err != nil {
			a.Log.WithError(err).Warn("shutdown tracer")
		}
	}
}

func buildTracer(ctx context.Context, cfg *config.Config) (tracing.Tracer, func(context.Context) error, error) {
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint == "" {
		return tracing.Noop, func(context.Context) error { return nil }, nil
	}
	provider, shutdown, err := tracing.NewOTLPTracerProvider(ctx, tracing.OTLPConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    true,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return nil, nil, err
	}
	return tracing.ConfigureGlobalTracer(provider, cfg.Tracing.ServiceName), shutdown, nil
}

func buildOAuthAuthenticator(ctx context.Context, cfg *config.Config) (*auth.OAuthAuthenticator, error) {
	if cfg.Auth.OAuthJWKSURL == "" {
		return nil, nil
	}
	k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.Auth.OAuthJWKSURL})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	return auth.NewOAuthAuthenticator(auth.OAuthConfig{
		Issuer:           cfg.Auth.OAuthIssuer,
		Audience:         cfg.Auth.OAuthAudience,
		TokenRefreshLead: cfg.Auth.OAuthJWKSRefresh,
	}, k.Keyfunc), nil
}

func routerPolicy(s string) router.Policy {
	switch s {
	case "round_robin":
		return router.PolicyRoundRobin
	case "random":
		return router.PolicyRandom
	case "least_connections":
		return router.PolicyLeastConnections
	case "consistent_hash":
		return router.PolicyConsistentHash
	default:
		return router.PolicyWeighted
	}
}
