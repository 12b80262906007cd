package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sandeepkv93/session-token-authority/internal/http/response"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
	"github.com/sandeepkv93/session-token-authority/internal/security"
	"github.com/sandeepkv93/session-token-authority/internal/service"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// Authenticator is the part of the session manager the middleware needs.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*service.Identity, error)
}

// AccessToken reads the access token from its cookie, falling back to an
// Authorization bearer header. source is "cookie", "bearer" or "none".
func AccessToken(r *http.Request) (raw, source string) {
	if raw = security.GetCookie(r, security.AccessTokenCookie); raw != "" {
		return raw, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if raw = strings.TrimSpace(auth[7:]); raw != "" {
			return raw, "bearer"
		}
	}
	return "", "none"
}

func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := AccessToken(r)
			id, err := auth.Authenticate(r.Context(), raw)
			observability.RecordAccessTokenValidation(r.Context(), service.ValidationOutcome(err), source)
			if err != nil {
				WriteAuthError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), IdentityContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (*service.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*service.Identity)
	return id, ok
}

// WriteAuthError renders an Authenticate failure.
func WriteAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrTokenMissing):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_MISSING", "missing access token", nil)
	case errors.Is(err, service.ErrTokenExpired):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired", nil)
	case errors.Is(err, service.ErrTokenRevoked):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_REVOKED", "access token revoked", nil)
	case errors.Is(err, service.ErrTokenInvalid):
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_INVALID", "invalid access token", nil)
	case errors.Is(err, service.ErrStoreUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "session store unavailable", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
