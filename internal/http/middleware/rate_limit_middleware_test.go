package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func serveFrom(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func noContent() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestLocalRateLimiterDeniesAfterLimit(t *testing.T) {
	h := NewRateLimiter(2, time.Minute).Middleware()(noContent())

	for i := 0; i < 2; i++ {
		if rr := serveFrom(h, "10.0.0.1:1000"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i+1, rr.Code)
		}
	}
	rr := serveFrom(h, "10.0.0.1:1001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rr := serveFrom(h, "10.0.0.2:1000"); rr.Code != http.StatusNoContent {
		t.Fatalf("other client should not be limited, got %d", rr.Code)
	}
}

func TestLocalFixedWindowResets(t *testing.T) {
	now := time.Now()
	l := NewLocalFixedWindowLimiter().(*localFixedWindowLimiter)
	l.now = func() time.Time { return now }

	if d, _ := l.Allow(context.Background(), "k", 1, time.Second); !d.Allowed {
		t.Fatal("first request should pass")
	}
	if d, _ := l.Allow(context.Background(), "k", 1, time.Second); d.Allowed {
		t.Fatal("second request should be denied")
	}
	now = now.Add(2 * time.Second)
	if d, _ := l.Allow(context.Background(), "k", 1, time.Second); !d.Allowed {
		t.Fatal("expected window reset")
	}
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := NewRedisFixedWindowLimiter(client, "sta_test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	d, err := limiter.Allow(ctx, "10.0.0.1", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 {
		t.Fatalf("expected denial with retry-after, got %+v", d)
	}

	server.FastForward(2 * time.Minute)
	if d, _ := limiter.Allow(ctx, "10.0.0.1", 3, time.Minute); !d.Allowed {
		t.Fatal("expected counter to expire with the window")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestRateLimiterFailureModes(t *testing.T) {
	open := NewDistributedRateLimiter(failingLimiter{}, 1, time.Minute, FailOpen, "auth").Middleware()(noContent())
	if rr := serveFrom(open, "10.0.0.1:1"); rr.Code != http.StatusNoContent {
		t.Fatalf("fail open should allow, got %d", rr.Code)
	}
	closed := NewDistributedRateLimiter(failingLimiter{}, 1, time.Minute, FailClosed, "auth").Middleware()(noContent())
	if rr := serveFrom(closed, "10.0.0.1:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail closed should deny, got %d", rr.Code)
	}
}
