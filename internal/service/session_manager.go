package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
	"github.com/sandeepkv93/session-token-authority/internal/identity"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
	"github.com/sandeepkv93/session-token-authority/internal/repository"
	"github.com/sandeepkv93/session-token-authority/internal/security"
)

type SessionConfig struct {
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RefreshTokenBytes int
	Pepper            string
}

// IssuedSession is a freshly minted token pair. Tokens are returned to the
// caller exactly once; only the refresh token digest is persisted.
type IssuedSession struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
	CompanyID        string
	Email            string
}

// Identity is the authenticated view of a valid access token.
type Identity struct {
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Email     string    `json:"email,omitempty"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Valid     bool      `json:"valid"`
}

type SessionManager struct {
	jwt         *security.JWTManager
	verifier    identity.Verifier
	refresh     repository.RefreshTokenRepository
	revocations repository.RevocationRepository
	cfg         SessionConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewSessionManager(
	jwtMgr *security.JWTManager,
	verifier identity.Verifier,
	refresh repository.RefreshTokenRepository,
	revocations repository.RevocationRepository,
	cfg SessionConfig,
	logger *slog.Logger,
) *SessionManager {
	if cfg.RefreshTokenBytes < security.MinRefreshTokenBytes {
		cfg.RefreshTokenBytes = security.MinRefreshTokenBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		jwt:         jwtMgr,
		verifier:    verifier,
		refresh:     refresh,
		revocations: revocations,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the manager clock. The JWT manager keeps its own clock.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Issue verifies credentials with the identity service and starts a session.
// Missing and rejected credentials both yield ErrInvalidCredentials.
func (m *SessionManager) Issue(ctx context.Context, email, password string) (*IssuedSession, error) {
	ctx, span := observability.Tracer().Start(ctx, "session.issue")
	defer span.End()

	if email == "" || password == "" {
		observability.RecordAuthLogin(ctx, "missing_credentials")
		return nil, spanError(span, ErrInvalidCredentials)
	}

	principal, err := m.verifier.VerifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			m.logger.WarnContext(ctx, "identity service unavailable", "error", err)
			observability.RecordAuthLogin(ctx, "identity_unavailable")
			return nil, spanError(span, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err))
		}
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, spanError(span, ErrInvalidCredentials)
	}
	if principal == nil || principal.UserID == "" {
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, spanError(span, ErrInvalidCredentials)
	}
	if principal.Email == "" {
		principal.Email = email
	}
	span.SetAttributes(attribute.String("user.id", principal.UserID))

	sub := security.TokenSubject{UserID: principal.UserID, CompanyID: principal.CompanyID, Email: principal.Email}
	issued, row, err := m.mint(sub)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, spanError(span, err)
	}
	if err := m.refresh.Create(ctx, row); err != nil {
		observability.RecordAuthLogin(ctx, "store_error")
		return nil, spanError(span, m.storeError(ctx, "create refresh token", err))
	}

	observability.RecordAuthLogin(ctx, "success")
	m.logger.InfoContext(ctx, "session issued", "user_id", principal.UserID, "company_id", principal.CompanyID)
	return issued, nil
}

// Renew rotates a refresh token. The presented token is consumed whether
// renewal succeeds or the token turns out to be expired or revoked.
func (m *SessionManager) Renew(ctx context.Context, refreshToken string) (*IssuedSession, error) {
	ctx, span := observability.Tracer().Start(ctx, "session.renew")
	defer span.End()

	if refreshToken == "" {
		observability.RecordAuthRefresh(ctx, "missing")
		return nil, spanError(span, ErrMissingCredentials)
	}
	hash := security.HashRefreshToken(refreshToken, m.cfg.Pepper)

	row, err := m.refresh.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			observability.RecordAuthRefresh(ctx, "invalid")
			return nil, spanError(span, ErrRefreshTokenInvalid)
		}
		observability.RecordAuthRefresh(ctx, "store_error")
		return nil, spanError(span, m.storeError(ctx, "find refresh token", err))
	}
	span.SetAttributes(attribute.String("user.id", row.UserID))

	if row.Expired(m.now()) {
		m.discard(ctx, hash)
		observability.RecordAuthRefresh(ctx, "expired")
		return nil, spanError(span, ErrRefreshTokenExpired)
	}
	if row.Revoked {
		m.discard(ctx, hash)
		observability.RecordAuthRefresh(ctx, "revoked")
		return nil, spanError(span, ErrRefreshTokenInvalid)
	}

	sub := security.TokenSubject{UserID: row.UserID, CompanyID: row.CompanyID, Email: row.Email}
	issued, next, err := m.mint(sub)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, spanError(span, err)
	}
	if _, err := m.refresh.Rotate(ctx, hash, next); err != nil {
		switch {
		case errors.Is(err, repository.ErrRefreshTokenNotFound):
			// lost a concurrent rotation of the same token
			observability.RecordAuthRefresh(ctx, "invalid")
			return nil, spanError(span, ErrRefreshTokenInvalid)
		case errors.Is(err, repository.ErrRefreshTokenRevoked):
			m.discard(ctx, hash)
			observability.RecordAuthRefresh(ctx, "revoked")
			return nil, spanError(span, ErrRefreshTokenInvalid)
		case errors.Is(err, repository.ErrRefreshTokenConflict):
			observability.RecordAuthRefresh(ctx, "conflict")
			return nil, spanError(span, ErrSessionConflict)
		default:
			observability.RecordAuthRefresh(ctx, "store_error")
			return nil, spanError(span, m.storeError(ctx, "rotate refresh token", err))
		}
	}

	observability.RecordAuthRefresh(ctx, "success")
	return issued, nil
}

// Invalidate ends a session. Undecodable access tokens are tolerated so that a
// client holding an expired access token can still log out; persistence errors
// are the only failure it reports once both credentials are present.
func (m *SessionManager) Invalidate(ctx context.Context, accessToken, refreshToken string) error {
	ctx, span := observability.Tracer().Start(ctx, "session.invalidate")
	defer span.End()

	if accessToken == "" || refreshToken == "" {
		observability.RecordAuthLogout(ctx, "missing")
		return spanError(span, ErrMissingCredentials)
	}

	var errs []error
	claims, err := m.jwt.ParseAccessToken(accessToken)
	switch {
	case err != nil:
		m.logger.DebugContext(ctx, "logout with undecodable access token", "kind", security.DecodeKind(err).String())
	case claims.ID != "":
		entry := &domain.RevokedToken{
			TokenID:   claims.ID,
			UserID:    claims.Subject,
			CompanyID: claims.CompanyID,
			Reason:    "logout",
		}
		if claims.ExpiresAt != nil {
			entry.ExpiresAt = claims.ExpiresAt.Time
		}
		if err := m.revocations.Revoke(ctx, entry); err != nil {
			errs = append(errs, fmt.Errorf("revoke access token: %w", err))
		}
	}

	hash := security.HashRefreshToken(refreshToken, m.cfg.Pepper)
	if err := m.refresh.DeleteByHash(ctx, hash); err != nil {
		errs = append(errs, fmt.Errorf("delete refresh token: %w", err))
	}

	if len(errs) > 0 {
		observability.RecordAuthLogout(ctx, "store_error")
		return spanError(span, m.storeError(ctx, "invalidate session", errors.Join(errs...)))
	}
	observability.RecordAuthLogout(ctx, "success")
	return nil
}

// RevokeUser flags every refresh token of userID as revoked so no session of
// that user can be renewed. Access tokens already issued stay valid until they
// expire.
func (m *SessionManager) RevokeUser(ctx context.Context, userID string) (int64, error) {
	ctx, span := observability.Tracer().Start(ctx, "session.revoke_user")
	defer span.End()

	if userID == "" {
		return 0, spanError(span, ErrMissingCredentials)
	}
	span.SetAttributes(attribute.String("user.id", userID))
	n, err := m.refresh.RevokeByUser(ctx, userID)
	if err != nil {
		return 0, spanError(span, m.storeError(ctx, "revoke user refresh tokens", err))
	}
	m.logger.InfoContext(ctx, "user sessions revoked", "user_id", userID, "refresh_tokens", n)
	return n, nil
}

// Authenticate validates an access token against the codec and the
// revocation ledger. Ledger failures reject the token.
func (m *SessionManager) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	ctx, span := observability.Tracer().Start(ctx, "session.authenticate")
	defer span.End()

	if accessToken == "" {
		return nil, spanError(span, ErrTokenMissing)
	}
	claims, err := m.jwt.ParseAccessToken(accessToken)
	if err != nil {
		if security.DecodeKind(err) == security.DecodeExpired {
			return nil, spanError(span, ErrTokenExpired)
		}
		return nil, spanError(span, ErrTokenInvalid)
	}
	if claims.ID == "" {
		return nil, spanError(span, ErrTokenInvalid)
	}

	revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, spanError(span, m.storeError(ctx, "check revocation", err))
	}
	if revoked {
		return nil, spanError(span, ErrTokenRevoked)
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(m.now()) {
		return nil, spanError(span, ErrTokenExpired)
	}

	return &Identity{
		UserID:    claims.Subject,
		CompanyID: claims.CompanyID,
		Email:     claims.Email,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		Valid:     true,
	}, nil
}

func (m *SessionManager) mint(sub security.TokenSubject) (*IssuedSession, *domain.RefreshToken, error) {
	access, claims, err := m.jwt.SignAccessToken(sub, m.cfg.AccessTokenTTL)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := security.NewRefreshToken(m.cfg.RefreshTokenBytes)
	if err != nil {
		return nil, nil, err
	}
	now := m.now().UTC()
	refreshExpiresAt := now.Add(m.cfg.RefreshTokenTTL)
	row := &domain.RefreshToken{
		TokenHash: security.HashRefreshToken(refresh, m.cfg.Pepper),
		UserID:    sub.UserID,
		CompanyID: sub.CompanyID,
		Email:     sub.Email,
		CreatedAt: now,
		ExpiresAt: refreshExpiresAt,
	}
	return &IssuedSession{
		AccessToken:      access,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiresAt,
		UserID:           sub.UserID,
		CompanyID:        sub.CompanyID,
		Email:            sub.Email,
	}, row, nil
}

// discard deletes a refresh row that can never be used again. Failures are
// logged; the reaper removes the row later.
func (m *SessionManager) discard(ctx context.Context, hash string) {
	if err := m.refresh.DeleteByHash(ctx, hash); err != nil {
		m.logger.WarnContext(ctx, "delete unusable refresh token failed", "error", err)
	}
}

func (m *SessionManager) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, repository.ErrRefreshTokenConflict) {
		return ErrSessionConflict
	}
	m.logger.ErrorContext(ctx, "session store failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
