package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	CompanyID string `json:"company_id"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenSubject is the identity an access token is minted for.
type TokenSubject struct {
	UserID    string
	CompanyID string
	Email     string
}

type DecodeErrorKind int

const (
	DecodeMalformed DecodeErrorKind = iota + 1
	DecodeBadSignature
	DecodeExpired
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeMalformed:
		return "malformed"
	case DecodeBadSignature:
		return "bad_signature"
	case DecodeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// DecodeError is the only error type returned by ParseAccessToken.
type DecodeError struct {
	Kind DecodeErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "access token " + e.Kind.String()
	}
	return fmt.Sprintf("access token %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeKind returns the classification of err, or 0 if err is not a *DecodeError.
func DecodeKind(err error) DecodeErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

type JWTManager struct {
	issuer   string
	audience string
	secret   []byte
	now      func() time.Time
}

func NewJWTManager(issuer, audience, secret string) *JWTManager {
	return &JWTManager{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(secret),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for iat/exp and validation.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) SignAccessToken(sub TokenSubject, ttl time.Duration) (string, *Claims, error) {
	return m.SignAccessTokenWithJTI(sub, ttl, uuid.NewString())
}

func (m *JWTManager) SignAccessTokenWithJTI(sub TokenSubject, ttl time.Duration, jti string) (string, *Claims, error) {
	if ttl <= 0 {
		return "", nil, errors.New("access token ttl must be positive")
	}
	if sub.UserID == "" {
		return "", nil, errors.New("access token subject is required")
	}
	if jti == "" {
		jti = uuid.NewString()
	}
	now := m.now()
	claims := &Claims{
		CompanyID: sub.CompanyID,
		Email:     sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   sub.UserID,
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !tok.Valid {
		return nil, &DecodeError{Kind: DecodeMalformed, Err: errors.New("invalid token")}
	}
	return claims, nil
}

// classifyParseError folds jwt validation errors into the three decode kinds.
// Signature problems are checked first so a forged expired token is never
// reported as merely expired.
func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return &DecodeError{Kind: DecodeBadSignature, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return &DecodeError{Kind: DecodeExpired, Err: err}
	default:
		return &DecodeError{Kind: DecodeMalformed, Err: err}
	}
}
