package service

import "errors"

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrTokenMissing = errors.New("access token missing")
	ErrTokenInvalid = errors.New("access token invalid")
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenRevoked = errors.New("access token revoked")

	ErrRefreshTokenInvalid = errors.New("refresh token invalid")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	ErrSessionConflict     = errors.New("session conflict")
	ErrIdentityUnavailable = errors.New("identity service unavailable")
	ErrStoreUnavailable    = errors.New("session store unavailable")
)

// ValidationOutcome labels an Authenticate result for metrics and audit logs.
func ValidationOutcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrTokenMissing):
		return "missing"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
