package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/session-token-authority/internal/domain"
	"github.com/sandeepkv93/session-token-authority/internal/observability"
)

type RedisRevocationRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRevocationRepository(client redis.UniversalClient, prefix string) *RedisRevocationRepository {
	if prefix == "" {
		prefix = "sta"
	}
	return &RedisRevocationRepository{client: client, prefix: prefix, now: time.Now}
}

// Revoke stores the entry until the token's own expiry. Tokens that are
// already expired are not recorded.
func (r *RedisRevocationRepository) Revoke(ctx context.Context, entry *domain.RevokedToken) error {
	now := r.now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	ttl := entry.ExpiresAt.Sub(now)
	if ttl <= 0 {
		observability.RecordRepositoryOperation(ctx, "revocation", "revoke", "skipped")
		return nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := r.client.SetNX(ctx, r.key(entry.TokenID), payload, ttl).Err(); err != nil {
		observability.RecordRepositoryOperation(ctx, "revocation", "revoke", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "revocation", "revoke", "success")
	return nil
}

func (r *RedisRevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "revocation", "is_revoked", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "revocation", "is_revoked", "success")
	return n > 0, nil
}

// DeleteExpired is a no-op; entries carry a TTL matching the token expiry.
func (r *RedisRevocationRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *RedisRevocationRepository) key(tokenID string) string {
	return fmt.Sprintf("%s:revoked:%s", r.prefix, tokenID)
}
