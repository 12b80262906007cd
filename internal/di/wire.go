//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/session-token-authority/internal/app"
	"github.com/sandeepkv93/session-token-authority/internal/config"
	"github.com/sandeepkv93/session-token-authority/internal/http/handler"
	"github.com/sandeepkv93/session-token-authority/internal/service"
)

var storeSet = wire.NewSet(
	provideStores,
	provideRefreshRepository,
	provideRevocationRepository,
)

var observabilitySet = wire.NewSet(
	provideLogsProvider,
	provideLogger,
)

var appSet = wire.NewSet(
	observabilitySet,
	storeSet,
	provideRuntime,
	provideJWTManager,
	provideVerifier,
	provideSessionManager,
	provideReaper,
	provideReadiness,
	provideAuthRateLimiter,
	provideAuthHandler,
	provideSystemHandler,
	provideRouter,
	provideServer,
	provideApp,
)

func InitializeApp(ctx context.Context, cfg *config.Config, build handler.BuildInfo) (*app.App, func(), error) {
	wire.Build(appSet)
	return nil, nil, nil
}

func InitializeReaper(ctx context.Context, cfg *config.Config) (*service.Reaper, func(), error) {
	wire.Build(observabilitySet, storeSet, provideReaper)
	return nil, nil, nil
}

func InitializeSessionManager(ctx context.Context, cfg *config.Config) (*service.SessionManager, func(), error) {
	wire.Build(observabilitySet, storeSet, provideJWTManager, provideVerifier, provideSessionManager)
	return nil, nil, nil
}
