package di

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gorm.io/gorm"

	"github.com/sandeepkv93/session-token-authority/internal/app"
	"github.com/sandeepkv93/session-token-authority/internal/config"
	"github.com/sandeepkv93/session-token-authority/internal/database"
	"github.com/sandeepkv93/session-token-authority/internal/health"
	"github.com/sandeepkv93/session-token-authority/internal/http/handler"
	"github.com/sandeepkv93/session-token-authority/internal/http/middleware"
	"github.com/sandeepkv93/session-token-authority/internal/http/router"
	"github.com/sandeepkv93/session-token-authority/internal/identity"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
	"github.com/sandeepkv93/session-token-authority/internal/repository"
	"github.com/sandeepkv93/session-token-authority/internal/security"
	"github.com/sandeepkv93/session-token-authority/internal/service"
)

// Stores holds the backends selected by configuration. Either field may be nil.
type Stores struct {
	DB    *gorm.DB
	Redis redis.UniversalClient
}

func provideLogsProvider(ctx context.Context, cfg *config.Config) (*sdklog.LoggerProvider, error) {
	return observability.InitLogs(ctx, cfg)
}

func provideLogger(cfg *config.Config, lp *sdklog.LoggerProvider) *slog.Logger {
	logger := observability.NewLogger(cfg, os.Stdout, lp)
	slog.SetDefault(logger)
	return logger
}

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, func(), error) {
	stores := &Stores{}
	cleanup := func() {
		if stores.DB != nil {
			if err := database.Close(stores.DB); err != nil {
				logger.Warn("close database", "error", err)
			}
		}
		if stores.Redis != nil {
			if err := stores.Redis.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}
	}

	if cfg.UsesDatabase() {
		db, err := database.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		stores.DB = db
		if cfg.DatabaseAutoMigrate {
			if err := database.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		logger.Info("database ready", "driver", cfg.DatabaseDriver)
	}
	if cfg.UsesRedis() {
		client, err := database.NewRedisClient(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		stores.Redis = client
		logger.Info("redis ready", "addr", cfg.RedisAddr)
	}
	return stores, cleanup, nil
}

func provideRefreshRepository(cfg *config.Config, stores *Stores) (repository.RefreshTokenRepository, error) {
	switch cfg.RefreshStoreBackend {
	case config.StoreBackendRedis:
		if stores.Redis == nil {
			return nil, errors.New("refresh store: redis client not configured")
		}
		return repository.NewRedisRefreshTokenRepository(stores.Redis, cfg.RedisKeyPrefix), nil
	default:
		if stores.DB == nil {
			return nil, errors.New("refresh store: database not configured")
		}
		return repository.NewRefreshTokenRepository(stores.DB), nil
	}
}

func provideRevocationRepository(cfg *config.Config, stores *Stores) (repository.RevocationRepository, error) {
	switch cfg.RevocationStoreBackend {
	case config.StoreBackendRedis:
		if stores.Redis == nil {
			return nil, errors.New("revocation store: redis client not configured")
		}
		return repository.NewRedisRevocationRepository(stores.Redis, cfg.RedisKeyPrefix), nil
	default:
		if stores.DB == nil {
			return nil, errors.New("revocation store: database not configured")
		}
		return repository.NewRevocationRepository(stores.DB), nil
	}
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
}

func provideVerifier(cfg *config.Config) identity.Verifier {
	return identity.NewHTTPVerifier(cfg.UserServiceURL, cfg.InternalAuthToken, cfg.UserServiceTimeout)
}

func provideSessionManager(
	jwtMgr *security.JWTManager,
	verifier identity.Verifier,
	refresh repository.RefreshTokenRepository,
	revocations repository.RevocationRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *service.SessionManager {
	return service.NewSessionManager(jwtMgr, verifier, refresh, revocations, service.SessionConfig{
		AccessTokenTTL:    cfg.AccessTokenTTL,
		RefreshTokenTTL:   cfg.RefreshTokenTTL,
		RefreshTokenBytes: cfg.RefreshTokenBytes,
		Pepper:            cfg.RefreshTokenPepper,
	}, logger)
}

func provideReaper(cfg *config.Config, refresh repository.RefreshTokenRepository, revocations repository.RevocationRepository, logger *slog.Logger) *service.Reaper {
	return service.NewReaper(refresh, revocations, cfg.ReaperInterval, logger)
}

func provideReadiness(stores *Stores) *health.ProbeRunner {
	var checkers []health.Checker
	if stores.DB != nil {
		checkers = append(checkers, health.DatabaseChecker(stores.DB))
	}
	if stores.Redis != nil {
		checkers = append(checkers, health.RedisChecker(stores.Redis))
	}
	return health.NewProbeRunner(2*time.Second, 5*time.Second, checkers...)
}

func provideAuthRateLimiter(cfg *config.Config, stores *Stores) router.AuthRateLimiterFunc {
	if cfg.RateLimitRedisEnable && stores.Redis != nil {
		limiter := middleware.NewRedisFixedWindowLimiter(stores.Redis, cfg.RedisKeyPrefix)
		return middleware.NewDistributedRateLimiter(limiter, cfg.AuthRateLimitRPM, time.Minute, middleware.FailClosed, "auth").Middleware()
	}
	return middleware.NewRateLimiter(cfg.AuthRateLimitRPM, time.Minute).Middleware()
}

func provideAuthHandler(mgr *service.SessionManager, cfg *config.Config) *handler.AuthHandler {
	return handler.NewAuthHandler(mgr, security.CookieOptions{
		Domain:   cfg.CookieDomain,
		Secure:   cfg.CookieSecure,
		SameSite: security.ParseSameSite(cfg.CookieSameSite),
	})
}

func provideSystemHandler(build handler.BuildInfo, cfg *config.Config, readiness *health.ProbeRunner) *handler.SystemHandler {
	return handler.NewSystemHandler(build, cfg.Redacted(), readiness)
}

func provideRouter(
	cfg *config.Config,
	auth *handler.AuthHandler,
	system *handler.SystemHandler,
	mgr *service.SessionManager,
	limiter router.AuthRateLimiterFunc,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:      auth,
		SystemHandler:    system,
		Authenticator:    mgr,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		AuthRateLimiter:  limiter,
		RequestTimeout:   cfg.RequestTimeout,
		EnableOTelHTTP:   cfg.EnableOTelHTTP,
	})
}

func provideServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func provideApp(cfg *config.Config, logger *slog.Logger, server *http.Server, rt *observability.Runtime, reaper *service.Reaper) *app.App {
	if !cfg.ReaperEnabled {
		reaper = nil
	}
	return app.New(cfg, logger, server, rt, reaper)
}
