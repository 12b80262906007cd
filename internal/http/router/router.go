package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/session-token-authority/internal/http/handler"
	"github.com/sandeepkv93/session-token-authority/internal/http/middleware"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	SystemHandler    *handler.SystemHandler
	Authenticator    middleware.Authenticator
	AuthRateLimitRPM int
	AuthRateLimiter  AuthRateLimiterFunc
	RequestTimeout   time.Duration
	EnableOTelHTTP   bool
}

type AuthRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(dep.RequestTimeout))
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}

	r.Get("/health/live", dep.SystemHandler.Live)
	r.Get("/health/ready", dep.SystemHandler.Ready)
	r.Get("/version", dep.SystemHandler.Version)
	r.Get("/config", dep.SystemHandler.Config)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter)
			r.Post("/login", dep.AuthHandler.Login)
			r.Post("/refresh", dep.AuthHandler.Refresh)
			r.Post("/logout", dep.AuthHandler.Logout)
			r.Get("/verify", dep.AuthHandler.Verify)
		})
		r.With(middleware.AuthMiddleware(dep.Authenticator)).Get("/me", dep.AuthHandler.Me)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
