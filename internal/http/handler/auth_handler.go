package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/session-token-authority/internal/http/middleware"
	"github.com/sandeepkv93/session-token-authority/internal/http/response"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
	"github.com/sandeepkv93/session-token-authority/internal/security"
	"github.com/sandeepkv93/session-token-authority/internal/service"
)

type SessionService interface {
	Issue(ctx context.Context, email, password string) (*service.IssuedSession, error)
	Renew(ctx context.Context, refreshToken string) (*service.IssuedSession, error)
	Invalidate(ctx context.Context, accessToken, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (*service.Identity, error)
}

type AuthHandler struct {
	sessions SessionService
	cookies  security.CookieOptions
}

func NewAuthHandler(sessions SessionService, cookies security.CookieOptions) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookies: cookies}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID           string    `json:"user_id"`
	CompanyID        string    `json:"company_id"`
	Email            string    `json:"email,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		observability.Audit(r, "auth.login", "failure", "reason", "malformed_request")
		h.writeSessionError(w, r, service.ErrInvalidCredentials)
		return
	}
	issued, err := h.sessions.Issue(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		observability.Audit(r, "auth.login", "failure", "reason", errorReason(err))
		h.writeSessionError(w, r, err)
		return
	}
	h.setSessionCookies(w, issued)
	observability.Audit(r, "auth.login", "success", "user_id", issued.UserID, "company_id", issued.CompanyID)
	response.JSON(w, r, http.StatusOK, toSessionResponse(issued))
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	issued, err := h.sessions.Renew(r.Context(), security.GetCookie(r, security.RefreshTokenCookie))
	if err != nil {
		if errors.Is(err, service.ErrRefreshTokenInvalid) || errors.Is(err, service.ErrRefreshTokenExpired) {
			h.clearSessionCookies(w)
		}
		observability.Audit(r, "auth.refresh", "failure", "reason", errorReason(err))
		h.writeSessionError(w, r, err)
		return
	}
	h.setSessionCookies(w, issued)
	observability.Audit(r, "auth.refresh", "success", "user_id", issued.UserID)
	response.JSON(w, r, http.StatusOK, toSessionResponse(issued))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	access, _ := middleware.AccessToken(r)
	refresh := security.GetCookie(r, security.RefreshTokenCookie)
	if err := h.sessions.Invalidate(r.Context(), access, refresh); err != nil {
		observability.Audit(r, "auth.logout", "failure", "reason", errorReason(err))
		h.writeSessionError(w, r, err)
		return
	}
	h.clearSessionCookies(w)
	observability.Audit(r, "auth.logout", "success")
	response.JSON(w, r, http.StatusOK, map[string]bool{"logged_out": true})
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	raw, source := middleware.AccessToken(r)
	id, err := h.sessions.Authenticate(r.Context(), raw)
	observability.RecordAccessTokenValidation(r.Context(), service.ValidationOutcome(err), source)
	if err != nil {
		middleware.WriteAuthError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, id)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, r, service.ErrTokenMissing)
		return
	}
	response.JSON(w, r, http.StatusOK, id)
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, issued *service.IssuedSession) {
	security.SetTokenCookie(w, h.cookies, security.AccessTokenCookie, issued.AccessToken, issued.AccessExpiresAt)
	security.SetTokenCookie(w, h.cookies, security.RefreshTokenCookie, issued.RefreshToken, issued.RefreshExpiresAt)
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	security.ClearTokenCookie(w, h.cookies, security.AccessTokenCookie)
	security.ClearTokenCookie(w, h.cookies, security.RefreshTokenCookie)
}

func (h *AuthHandler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrMissingCredentials):
		response.Error(w, r, http.StatusBadRequest, "MISSING_CREDENTIALS", "required credentials are missing", nil)
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials", nil)
	case errors.Is(err, service.ErrRefreshTokenExpired):
		response.Error(w, r, http.StatusUnauthorized, "REFRESH_TOKEN_EXPIRED", "refresh token expired", nil)
	case errors.Is(err, service.ErrRefreshTokenInvalid):
		response.Error(w, r, http.StatusUnauthorized, "REFRESH_TOKEN_INVALID", "invalid refresh token", nil)
	case errors.Is(err, service.ErrSessionConflict):
		response.Error(w, r, http.StatusConflict, "SESSION_CONFLICT", "session conflict, retry", nil)
	case errors.Is(err, service.ErrIdentityUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "IDENTITY_UNAVAILABLE", "identity service unavailable", nil)
	default:
		middleware.WriteAuthError(w, r, err)
	}
}

func toSessionResponse(issued *service.IssuedSession) sessionResponse {
	return sessionResponse{
		UserID:           issued.UserID,
		CompanyID:        issued.CompanyID,
		Email:            issued.Email,
		AccessExpiresAt:  issued.AccessExpiresAt,
		RefreshExpiresAt: issued.RefreshExpiresAt,
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, service.ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, service.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, service.ErrRefreshTokenExpired):
		return "refresh_expired"
	case errors.Is(err, service.ErrRefreshTokenInvalid):
		return "refresh_invalid"
	case errors.Is(err, service.ErrSessionConflict):
		return "conflict"
	case errors.Is(err, service.ErrIdentityUnavailable):
		return "identity_unavailable"
	case errors.Is(err, service.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
