package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
)

func TestRevocationRepositoryRevokeIsIdempotent(t *testing.T) {
	backends := map[string]func(t *testing.T) RevocationRepository{
		"gorm": func(t *testing.T) RevocationRepository {
			return NewRevocationRepository(newDBForTest(t))
		},
		"redis": func(t *testing.T) RevocationRepository {
			_, client := newRedisClientForTest(t)
			return NewRedisRevocationRepository(client, "sta_test")
		},
	}
	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := build(t)
			expires := time.Now().Add(15 * time.Minute)

			revoked, err := repo.IsRevoked(ctx, "jti-1")
			if err != nil {
				t.Fatalf("is revoked: %v", err)
			}
			if revoked {
				t.Fatal("expected jti-1 to be live before revocation")
			}

			for i := 0; i < 2; i++ {
				entry := &domain.RevokedToken{TokenID: "jti-1", UserID: "u-1", CompanyID: "c-1", Reason: "logout", ExpiresAt: expires}
				if err := repo.Revoke(ctx, entry); err != nil {
					t.Fatalf("revoke #%d: %v", i+1, err)
				}
			}

			revoked, err = repo.IsRevoked(ctx, "jti-1")
			if err != nil {
				t.Fatalf("is revoked: %v", err)
			}
			if !revoked {
				t.Fatal("expected jti-1 revoked")
			}
			if revoked, _ := repo.IsRevoked(ctx, "jti-2"); revoked {
				t.Fatal("revocation must be scoped to a single token id")
			}
		})
	}
}

func TestGormRevocationRepositoryDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewRevocationRepository(newDBForTest(t))
	now := time.Now().UTC()

	if err := repo.Revoke(ctx, &domain.RevokedToken{TokenID: "old", ExpiresAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("revoke old: %v", err)
	}
	if err := repo.Revoke(ctx, &domain.RevokedToken{TokenID: "live", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("revoke live: %v", err)
	}
	n, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged entry, got %d", n)
	}
	if revoked, _ := repo.IsRevoked(ctx, "live"); !revoked {
		t.Fatal("live entry should survive purge")
	}
}

func TestRedisRevocationRepositoryExpiresWithToken(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	repo := NewRedisRevocationRepository(client, "sta_test")

	if err := repo.Revoke(ctx, &domain.RevokedToken{TokenID: "jti", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ttl := client.PTTL(ctx, repo.key("jti")).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl bounded by token expiry, got %v", ttl)
	}
	server.FastForward(2 * time.Minute)
	if revoked, _ := repo.IsRevoked(ctx, "jti"); revoked {
		t.Fatal("expected entry to lapse with the token")
	}

	if err := repo.Revoke(ctx, &domain.RevokedToken{TokenID: "stale", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("revoke stale: %v", err)
	}
	if n := client.Exists(ctx, repo.key("stale")).Val(); n != 0 {
		t.Fatal("already expired tokens should not be recorded")
	}
}
