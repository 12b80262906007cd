package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/session-token-authority/internal/config"
	"github.com/sandeepkv93/session-token-authority/internal/di"
	"github.com/sandeepkv93/session-token-authority/internal/http/handler"
)

const internalToken = "itest-internal-token"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type authTestServerOptions struct {
	cfgOverride func(cfg *config.Config)
	// identity replaces the default user-service stub.
	identity http.HandlerFunc
}

type identityUser struct {
	password  string
	userID    string
	companyID string
}

var testUsers = map[string]identityUser{
	"a@x.com": {password: "p", userID: "1", companyID: "42"},
	"b@x.com": {password: "q", userID: "2", companyID: "42"},
}

func userServiceStub(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/verify_password" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Internal-Token") != internalToken {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("identity stub: decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		u, ok := testUsers[req.Email]
		if !ok || u.password != req.Password {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"valid": false})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"valid":      true,
			"user_id":    json.Number(u.userID),
			"company_id": json.Number(u.companyID),
		})
	}
}

func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	return newAuthTestServerWithOptions(t, authTestServerOptions{})
}

func newAuthTestServerWithOptions(t *testing.T, opts authTestServerOptions) (string, *http.Client, func()) {
	t.Helper()
	identityHandler := opts.identity
	if identityHandler == nil {
		identityHandler = userServiceStub(t)
	}
	identitySrv := httptest.NewServer(identityHandler)

	cfg := baseTestConfig(t, identitySrv.URL)
	if opts.cfgOverride != nil {
		opts.cfgOverride(cfg)
	}
	if cfg.UsesRedis() && cfg.RedisAddr == "" {
		cfg.RedisAddr = miniredis.RunT(t).Addr()
	}
	if err := cfg.Validate(); err != nil {
		identitySrv.Close()
		t.Fatalf("validate test config: %v", err)
	}

	a, cleanup, err := di.InitializeApp(context.Background(), cfg, handler.BuildInfo{Version: "itest", Commit: "abc123"})
	if err != nil {
		identitySrv.Close()
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)

	client := &http.Client{Jar: mustJar(t), Timeout: 5 * time.Second}

	var once sync.Once
	return srv.URL, client, func() {
		once.Do(func() {
			srv.Close()
			identitySrv.Close()
			_ = a.Observability.Shutdown(context.Background())
			cleanup()
		})
	}
}

func baseTestConfig(t *testing.T, userServiceURL string) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:                       "test",
		HTTPAddr:                     "127.0.0.1:0",
		ReadHeaderTimeout:            time.Second,
		RequestTimeout:               5 * time.Second,
		ShutdownTimeout:              5 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,

		JWTSecret:          "0123456789abcdef0123456789abcdef",
		JWTIssuer:          "session-token-authority",
		JWTAudience:        "session-token-authority",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    24 * time.Hour,
		RefreshTokenBytes:  32,
		RefreshTokenPepper: "itest-pepper",

		CookieSecure:   false,
		CookieSameSite: "strict",

		RefreshStoreBackend:    config.StoreBackendDatabase,
		RevocationStoreBackend: config.StoreBackendDatabase,
		DatabaseDriver:         config.DatabaseDriverSQLite,
		DatabaseURL:            "file:" + filepath.Join(t.TempDir(), "sessions.db") + "?_busy_timeout=5000&_txlock=immediate",
		DatabaseAutoMigrate:    true,
		RedisKeyPrefix:         "itest",

		UserServiceURL:     userServiceURL,
		InternalAuthToken:  internalToken,
		UserServiceTimeout: time.Second,

		ReaperEnabled:  false,
		ReaperInterval: time.Minute,

		AuthRateLimitRPM: 1000,

		LogLevel:  "error",
		LogFormat: "json",

		OTELServiceName:           "session-token-authority-itest",
		OTELMetricsExportInterval: time.Second,
		OTELTraceSamplingRatio:    1,
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	return doRaw(t, client, method, url, body, headers, nil)
}

func doRaw(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string, cookies []*http.Cookie) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v body=%s", err, string(raw))
		}
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func login(t *testing.T, client *http.Client, baseURL, email, password string) {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d env=%+v", resp.StatusCode, env)
	}
}

func captureAuditEvents(t *testing.T, fn func()) []map[string]any {
	t.Helper()
	var logBuf lockedBuffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(previous)

	fn()
	events := make([]map[string]any, 0)
	for _, line := range strings.Split(logBuf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if msg, _ := event["msg"].(string); msg == "audit" {
			events = append(events, event)
		}
	}
	return events
}

func requireAuditEvent(t *testing.T, events []map[string]any, eventName, outcome string) map[string]any {
	t.Helper()
	for _, e := range events {
		if e["event"] == eventName && e["outcome"] == outcome {
			return e
		}
	}
	t.Fatalf("missing audit event %s/%s in %+v", eventName, outcome, events)
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mustJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return jar
}
