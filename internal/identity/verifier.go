package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
)

var (
	// ErrInvalidCredentials covers every rejection by the user service. Callers
	// must not distinguish unknown users from wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnavailable        = errors.New("identity service unavailable")
)

// Verifier checks an email/password pair and returns the matching principal.
type Verifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*domain.Principal, error)
}

type VerifierFunc func(ctx context.Context, email, password string) (*domain.Principal, error)

func (f VerifierFunc) VerifyCredentials(ctx context.Context, email, password string) (*domain.Principal, error) {
	return f(ctx, email, password)
}

const (
	verifyPasswordPath  = "/users/verify_password"
	internalTokenHeader = "X-Internal-Token"
	maxResponseBytes    = 1 << 20
)

// HTTPVerifier calls the user service's password verification endpoint.
type HTTPVerifier struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPVerifier(baseURL, internalToken string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type verifyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyResponse struct {
	Valid     bool       `json:"valid"`
	UserID    externalID `json:"user_id"`
	CompanyID externalID `json:"company_id"`
	Username  string     `json:"username"`
	IsAdmin   bool       `json:"is_admin"`
}

// externalID accepts an id sent as a JSON number or string.
type externalID string

func (id *externalID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = externalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = externalID(n.String())
	return nil
}

func (v *HTTPVerifier) VerifyCredentials(ctx context.Context, email, password string) (*domain.Principal, error) {
	if v.baseURL == "" || v.token == "" {
		return nil, fmt.Errorf("%w: user service is not configured", ErrUnavailable)
	}
	body, err := json.Marshal(verifyRequest{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+verifyPasswordPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalTokenHeader, v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: user service status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, ErrInvalidCredentials
	}

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !out.Valid || out.UserID == "" {
		return nil, ErrInvalidCredentials
	}
	return &domain.Principal{
		UserID:    string(out.UserID),
		CompanyID: string(out.CompanyID),
		Email:     email,
		Username:  out.Username,
		IsAdmin:   out.IsAdmin,
	}, nil
}
